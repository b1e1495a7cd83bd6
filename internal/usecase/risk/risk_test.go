package risk

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ig-automation/internal/domain"
	"ig-automation/internal/usecase/ratelimit"
)

type stubAccounts struct {
	accounts []domain.InstagramAccount
	err      error
	calls    int
}

func (s *stubAccounts) GetInstagramAccount(_ context.Context, id int64) (domain.InstagramAccount, error) {
	s.calls++
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

type fixedSignals struct{ velocity, pattern, history int }

func (f fixedSignals) VelocityRisk(context.Context, domain.InstagramAccount) int { return f.velocity }
func (f fixedSignals) PatternRisk(context.Context, domain.InstagramAccount) int { return f.pattern }
func (f fixedSignals) HistoryRisk(context.Context, domain.InstagramAccount) int { return f.history }

var base = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func aged(id int64, days int, active bool) domain.InstagramAccount {
	return domain.InstagramAccount{ID: id, Username: "acc", CreatedAt: base.Add(-time.Duration(days) * 24 * time.Hour), IsActive: active}
}

func TestCombineIsWeightedSum(t *testing.T) {
	a := Combine(Components{Age: 80, Velocity: 40, Pattern: 35, History: 25})
	// 20 + 12 + 8.75 + 5 = 45.75
	if a.Score != 45 || a.Level != LevelMedium {
		t.Fatalf("ожидали 45 MEDIUM, получили %d %s", a.Score, a.Level)
	}
	// сильный аккаунт частично компенсирует слабое измерение
	a = Combine(Components{Age: 10, Velocity: 100, Pattern: 10, History: 10})
	if a.Score != 37 {
		t.Fatalf("ожидали 37, получили %d", a.Score)
	}
}

func TestLevelThresholds(t *testing.T) {
	tests := map[int]Level{
		100: LevelCritical, 80: LevelCritical, 79: LevelHigh, 60: LevelHigh,
		59: LevelMedium, 40: LevelMedium, 39: LevelLow, 20: LevelLow, 19: LevelMinimal, 0: LevelMinimal,
	}
	for score, want := range tests {
		if got := LevelFor(score); got != want {
			t.Fatalf("балл %d: ожидали %s, получили %s", score, want, got)
		}
	}
	if LevelCritical.Title() != "КРИТИЧЕСКИЙ" {
		t.Fatalf("неверное название уровня: %s", LevelCritical.Title())
	}
}

func TestAgeRiskStaircase(t *testing.T) {
	tests := map[int]int{0: 90, 1: 80, 2: 80, 3: 70, 7: 50, 14: 30, 30: 20, 89: 20, 90: 10, 1000: 10}
	for age, want := range tests {
		if got := AgeRisk(age); got != want {
			t.Fatalf("возраст %d: ожидали риск %d, получили %d", age, want, got)
		}
	}
}

func TestRandomSignalsStayInRange(t *testing.T) {
	lowest := RandomSignals{Intn: func(int) int { return 0 }}
	highest := RandomSignals{Intn: func(n int) int { return n - 1 }}
	active := aged(1, 10, true)
	ctx := context.Background()

	if lowest.VelocityRisk(ctx, active) != 10 || highest.VelocityRisk(ctx, active) != 40 {
		t.Fatalf("неверный диапазон скорости")
	}
	if lowest.PatternRisk(ctx, active) != 5 || highest.PatternRisk(ctx, active) != 35 {
		t.Fatalf("неверный диапазон аномалий")
	}
	if lowest.HistoryRisk(ctx, active) != 5 || highest.HistoryRisk(ctx, active) != 25 {
		t.Fatalf("неверный диапазон истории")
	}
	if lowest.HistoryRisk(ctx, aged(2, 10, false)) != 80 {
		t.Fatalf("для неактивного аккаунта риск истории должен быть 80")
	}
}

func TestMonitorScoresAndCaches(t *testing.T) {
	now := base
	repo := &stubAccounts{accounts: []domain.InstagramAccount{aged(1, 2, true)}}
	m := NewMonitor(repo, fixedSignals{velocity: 40, pattern: 35, history: 25}, zerolog.Nop(), func() time.Time { return now })
	ctx := context.Background()

	if got := m.CalculateBanRiskScore(ctx, 1); got != 45 {
		t.Fatalf("ожидали риск 45, получили %d", got)
	}
	now = now.Add(599 * time.Second)
	m.CalculateBanRiskScore(ctx, 1)
	if repo.calls != 1 {
		t.Fatalf("в пределах TTL ожидали одно обращение, получили %d", repo.calls)
	}
	now = now.Add(time.Second)
	m.CalculateBanRiskScore(ctx, 1)
	if repo.calls != 2 {
		t.Fatalf("после TTL ожидали пересчёт, обращений %d", repo.calls)
	}
}

func TestMonitorDefaultsOnMissingAccount(t *testing.T) {
	m := NewMonitor(&stubAccounts{}, nil, zerolog.Nop(), nil)
	if got := m.CalculateBanRiskScore(context.Background(), 42); got != 50 {
		t.Fatalf("для неизвестного аккаунта ожидали 50, получили %d", got)
	}
	advice := m.RiskMitigationAdvice(context.Background(), 42)
	if len(advice) != 1 || advice[0] != "Не удалось получить данные о рисках" {
		t.Fatalf("неожиданные советы: %v", advice)
	}
}

func TestAdviceOrderedDedupedAndCapped(t *testing.T) {
	a := Combine(Components{Age: 90, Velocity: 70, Pattern: 70, History: 80})
	advice := Advice(a)
	if len(advice) != 10 {
		t.Fatalf("ожидали не больше 10 советов, получили %d", len(advice))
	}
	if advice[0] != "Аккаунт слишком новый - увеличьте период прогрева" {
		t.Fatalf("первым должен идти совет по возрасту, получили %q", advice[0])
	}
	seen := map[string]bool{}
	for _, line := range advice {
		if seen[line] {
			t.Fatalf("совет %q повторяется", line)
		}
		seen[line] = true
	}

	low := Advice(Combine(Components{Age: 10, Velocity: 10, Pattern: 10, History: 10}))
	if len(low) != 2 || !strings.HasPrefix(low[0], "НИЗКИЙ РИСК") {
		t.Fatalf("для низкого риска ожидали два общих совета, получили %v", low)
	}
}

type stubUsage struct {
	limits ratelimit.Limits
	stats  ratelimit.ActionStats
}

func (s stubUsage) Limits(context.Context, int64) ratelimit.Limits { return s.limits }
func (s stubUsage) ActionStats(int64) ratelimit.ActionStats { return s.stats }

func TestUsageSignalsVelocity(t *testing.T) {
	usage := stubUsage{
		limits: ratelimit.LimitsForAge(0),
		stats: ratelimit.ActionStats{
			Hourly: map[domain.ActionType]int{domain.ActionLike: 5},
			Daily:  map[domain.ActionType]int{domain.ActionLike: 5},
		},
	}
	signals := UsageSignals{Usage: usage, Fallback: fixedSignals{pattern: 7, history: 9}}
	acc := aged(1, 1, true)
	ctx := context.Background()

	// 5 из 10 в час: 10 + 0.5*90
	if got := signals.VelocityRisk(ctx, acc); got != 55 {
		t.Fatalf("ожидали риск скорости 55, получили %d", got)
	}
	if signals.PatternRisk(ctx, acc) != 7 || signals.HistoryRisk(ctx, acc) != 9 {
		t.Fatalf("остальные компоненты должны браться из запасного источника")
	}

	idle := UsageSignals{Usage: stubUsage{limits: usage.limits}}
	if got := idle.VelocityRisk(ctx, acc); got != 10 {
		t.Fatalf("без действий ожидали 10, получили %d", got)
	}
}

func TestAccountsRiskSummary(t *testing.T) {
	repo := &stubAccounts{accounts: []domain.InstagramAccount{
		aged(1, 0, true),    // 22.5 + 30 + 25 + 20 = 97
		aged(2, 400, true),  // 2.5 + 30 + 25 + 20 = 77
		aged(3, 400, false), // 77
	}}
	m := NewMonitor(repo, fixedSignals{velocity: 100, pattern: 100, history: 100}, zerolog.Nop(), func() time.Time { return base })

	summary, err := m.AccountsRiskSummary(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if summary.TotalAccounts != 3 || summary.HighRiskCount != 3 {
		t.Fatalf("неверная сводка: %+v", summary)
	}
	if len(summary.Distribution[LevelCritical]) != 1 || len(summary.Distribution[LevelHigh]) != 2 {
		t.Fatalf("неверное распределение: %+v", summary.Distribution)
	}
	if summary.AverageRisk != 83 {
		t.Fatalf("ожидали средний риск 83, получили %d", summary.AverageRisk)
	}

	if _, err := NewMonitor(&stubAccounts{err: errors.New("db down")}, nil, zerolog.Nop(), nil).AccountsRiskSummary(context.Background()); err == nil {
		t.Fatalf("ожидали ошибку при недоступной БД")
	}
}
