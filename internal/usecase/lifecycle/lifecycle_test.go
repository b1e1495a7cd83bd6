package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ig-automation/internal/domain"
)

type stubAccounts struct {
	accounts []domain.InstagramAccount
	err      error
}

func (s *stubAccounts) GetInstagramAccount(_ context.Context, id int64) (domain.InstagramAccount, error) {
	if s.err != nil {
		return domain.InstagramAccount{}, s.err
	}
	for _, acc := range s.accounts {
		if acc.ID == id {
			return acc, nil
		}
	}
	return domain.InstagramAccount{}, domain.ErrNotFound
}

func (s *stubAccounts) ListInstagramAccounts(context.Context) ([]domain.InstagramAccount, error) {
	return s.accounts, s.err
}

var base = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func aged(id int64, days int, active bool) domain.InstagramAccount {
	return domain.InstagramAccount{ID: id, Username: "acc", CreatedAt: base.Add(-time.Duration(days) * day), IsActive: active}
}

func TestStageFor(t *testing.T) {
	tests := []struct {
		active bool
		age    int
		want   Stage
	}{
		{true, 0, StageNew},
		{true, 2, StageNew},
		{true, 3, StageWarming},
		{true, 13, StageWarming},
		{true, 14, StageActive},
		{true, 89, StageActive},
		{true, 90, StageMature},
		{false, 0, StageRestricted},
		{false, 500, StageRestricted},
	}
	for _, tt := range tests {
		if got := StageFor(tt.active, tt.age); got != tt.want {
			t.Fatalf("active=%v age=%d: ожидали %s, получили %s", tt.active, tt.age, tt.want, got)
		}
		if again := StageFor(tt.active, tt.age); again != tt.want {
			t.Fatalf("функция должна быть детерминированной")
		}
	}
}

func TestStageRecommendations(t *testing.T) {
	rec := StageRecommendations(StageNew)
	if rec.DailyActions[DailyLikes].String() != "10-20" {
		t.Fatalf("для NEW ожидали 10-20 лайков, получили %s", rec.DailyActions[DailyLikes])
	}
	if rec.Duration != "3-7 дней" {
		t.Fatalf("неожиданная длительность: %s", rec.Duration)
	}
	if got := StageRecommendations(StageMature).DailyActions[DailyFollows]; got != (Range{50, 200}) {
		t.Fatalf("для MATURE ожидали 50-200 подписок, получили %s", got)
	}
	if StageRecommendations(StageUnknown).Description != "Неизвестный этап" {
		t.Fatalf("для неизвестного этапа ожидали заглушку")
	}
}

func TestDetermineAccountStage(t *testing.T) {
	repo := &stubAccounts{accounts: []domain.InstagramAccount{aged(1, 2, true), aged(2, 30, false)}}
	m := NewManager(repo, zerolog.Nop(), func() time.Time { return base })
	ctx := context.Background()

	if got := m.DetermineAccountStage(ctx, 1); got != StageNew {
		t.Fatalf("ожидали NEW, получили %s", got)
	}
	if got := m.DetermineAccountStage(ctx, 2); got != StageRestricted {
		t.Fatalf("ожидали RESTRICTED, получили %s", got)
	}
	if got := m.DetermineAccountStage(ctx, 99); got != StageUnknown {
		t.Fatalf("для отсутствующего аккаунта ожидали UNKNOWN, получили %s", got)
	}
	if info, ok := m.LastStage(1); !ok || info.AgeDays != 2 {
		t.Fatalf("этап должен сохраниться в кэше: %+v", info)
	}

	broken := NewManager(&stubAccounts{err: errors.New("db down")}, zerolog.Nop(), nil)
	if got := broken.DetermineAccountStage(ctx, 1); got != StageUnknown {
		t.Fatalf("при ошибке БД ожидали UNKNOWN, получили %s", got)
	}
}

func TestPlanStageTransition(t *testing.T) {
	repo := &stubAccounts{accounts: []domain.InstagramAccount{
		aged(1, 2, true),
		aged(2, 200, true),
		aged(3, 10, false),
	}}
	m := NewManager(repo, zerolog.Nop(), func() time.Time { return base })
	ctx := context.Background()

	plan, err := m.PlanStageTransition(ctx, 1)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if plan.NextStage != StageWarming || plan.DaysUntilTransition == nil || *plan.DaysUntilTransition != 5 {
		t.Fatalf("неверный план для NEW: %+v", plan)
	}
	if want := repo.accounts[0].CreatedAt.Add(7 * day); !plan.TransitionDate.Equal(want) {
		t.Fatalf("ожидали дату %s, получили %s", want, plan.TransitionDate)
	}

	plan, _ = m.PlanStageTransition(ctx, 2)
	if plan.NextStage != StageMature || plan.TransitionDate != nil || *plan.DaysUntilTransition != 0 {
		t.Fatalf("неверный план для MATURE: %+v", plan)
	}

	plan, _ = m.PlanStageTransition(ctx, 3)
	if plan.NextStage != StageWarming || plan.TransitionDate != nil || plan.DaysUntilTransition != nil {
		t.Fatalf("для RESTRICTED дата перехода не определена: %+v", plan)
	}

	if _, err := m.PlanStageTransition(ctx, 99); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}
}

func TestStagesDistribution(t *testing.T) {
	repo := &stubAccounts{accounts: []domain.InstagramAccount{
		aged(1, 1, true), aged(2, 5, true), aged(3, 6, true), aged(4, 100, false),
	}}
	m := NewManager(repo, zerolog.Nop(), func() time.Time { return base })
	dist, err := m.StagesDistribution(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(dist[StageNew]) != 1 || len(dist[StageWarming]) != 2 || len(dist[StageRestricted]) != 1 {
		t.Fatalf("неверное распределение: %+v", dist)
	}
	if dist[StageMature] == nil {
		t.Fatalf("пустые этапы должны присутствовать в распределении")
	}
}
