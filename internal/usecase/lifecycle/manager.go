package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ig-automation/internal/domain"
	"ig-automation/internal/infra/cache"
)

const day = 24 * time.Hour

// AccountSource даёт доступ к аккаунтам.
type AccountSource interface {
	GetInstagramAccount(ctx context.Context, id int64) (domain.InstagramAccount, error)
	ListInstagramAccounts(ctx context.Context) ([]domain.InstagramAccount, error)
}

// StageInfo: последний определённый этап аккаунта.
type StageInfo struct {
	Stage        Stage     `json:"stage"`
	AgeDays      int       `json:"age_days"`
	DeterminedAt time.Time `json:"determined_at"`
}

// Manager определяет этапы аккаунтов и планирует переходы.
type Manager struct {
	accounts AccountSource
	stages   *cache.Memory[int64, StageInfo]
	log      zerolog.Logger
	now      func() time.Time
}

// NewManager создаёт менеджер жизненного цикла.
func NewManager(accounts AccountSource, logger zerolog.Logger, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{
		accounts: accounts,
		stages:   cache.NewMemory[int64, StageInfo](0, now),
		log:      logger.With().Str("component", "lifecycle").Logger(),
		now:      now,
	}
}

// DetermineAccountStage пересчитывает этап аккаунта. При ошибке возвращает UNKNOWN.
func (m *Manager) DetermineAccountStage(ctx context.Context, accountID int64) Stage {
	account, err := m.accounts.GetInstagramAccount(ctx, accountID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			m.log.Error().Err(err).Int64("account", accountID).Msg("lifecycle: ошибка определения этапа")
		}
		return StageUnknown
	}
	return m.stageOf(account).Stage
}

// LastStage возвращает последний определённый этап без обращения к БД.
func (m *Manager) LastStage(accountID int64) (StageInfo, bool) {
	return m.stages.Get(accountID)
}

func (m *Manager) stageOf(account domain.InstagramAccount) StageInfo {
	now := m.now()
	age := account.AgeDays(now)
	info := StageInfo{Stage: StageFor(account.IsActive, age), AgeDays: age, DeterminedAt: now}
	m.stages.Set(account.ID, info)
	m.log.Debug().
		Str("username", account.Username).
		Str("stage", string(info.Stage)).
		Int("age_days", age).
		Msg("lifecycle: этап определён")
	return info
}

// TransitionPlan описывает переход к следующему этапу.
// TransitionDate и DaysUntilTransition пусты, если переход не зависит от времени.
type TransitionPlan struct {
	CurrentStage        Stage      `json:"current_stage"`
	CurrentAgeDays      int        `json:"current_age_days"`
	NextStage           Stage      `json:"next_stage"`
	TransitionDate      *time.Time `json:"transition_date"`
	DaysUntilTransition *int       `json:"days_until_transition"`
	PreparationActions  []string   `json:"preparation_actions"`
}

type transition struct {
	next    Stage
	offset  int
	prepare []string
}

var transitions = map[Stage]transition{
	StageNew: {next: StageWarming, offset: 7, prepare: []string{
		"Заполнить все поля профиля",
		"Загрузить качественный аватар",
		"Опубликовать первые посты",
		"Настроить приватность",
	}},
	StageWarming: {next: StageActive, offset: 14, prepare: []string{
		"Увеличить частоту публикаций",
		"Начать Stories активность",
		"Расширить сеть подписок",
		"Улучшить взаимодействие",
	}},
	StageActive: {next: StageMature, offset: 90, prepare: []string{
		"Стабилизировать активность",
		"Нарастить аудиторию",
		"Оптимизировать контент-стратегию",
		"Подготовить к автоматизации",
	}},
	StageMature: {next: StageMature, prepare: []string{
		"Поддерживать активность",
		"Мониторить метрики",
		"Оптимизировать процессы",
	}},
	StageRestricted: {next: StageWarming, prepare: []string{
		"Минимизировать активность",
		"Дождаться снятия ограничений",
		"Анализировать причины блокировки",
		"Подготовить стратегию восстановления",
	}},
}

// PlanStageTransition прогнозирует дату перехода на следующий этап.
func (m *Manager) PlanStageTransition(ctx context.Context, accountID int64) (TransitionPlan, error) {
	account, err := m.accounts.GetInstagramAccount(ctx, accountID)
	if err != nil {
		return TransitionPlan{}, fmt.Errorf("get account %d: %w", accountID, err)
	}
	info := m.stageOf(account)
	plan := TransitionPlan{CurrentStage: info.Stage, CurrentAgeDays: info.AgeDays, PreparationActions: []string{}}

	tr, ok := transitions[info.Stage]
	if !ok {
		return plan, nil
	}
	plan.NextStage = tr.next
	plan.PreparationActions = tr.prepare
	switch {
	case tr.offset > 0:
		date := account.CreatedAt.Add(time.Duration(tr.offset) * day)
		days := max(0, tr.offset-info.AgeDays)
		plan.TransitionDate = &date
		plan.DaysUntilTransition = &days
	case info.Stage == StageMature:
		days := 0
		plan.DaysUntilTransition = &days
	}
	m.log.Info().
		Str("username", account.Username).
		Str("from", string(plan.CurrentStage)).
		Str("to", string(plan.NextStage)).
		Msg("lifecycle: план перехода построен")
	return plan, nil
}

// AccountStage: строка распределения по этапам.
type AccountStage struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	AgeDays  int    `json:"age_days"`
	IsActive bool   `json:"is_active"`
}

// StagesDistribution группирует все аккаунты по этапам.
func (m *Manager) StagesDistribution(ctx context.Context) (map[Stage][]AccountStage, error) {
	accounts, err := m.accounts.ListInstagramAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	out := make(map[Stage][]AccountStage, len(stageTitles))
	for _, stage := range Stages() {
		out[stage] = []AccountStage{}
	}
	for _, acc := range accounts {
		info := m.stageOf(acc)
		out[info.Stage] = append(out[info.Stage], AccountStage{
			ID:       acc.ID,
			Username: acc.Username,
			AgeDays:  info.AgeDays,
			IsActive: acc.IsActive,
		})
	}
	return out, nil
}

// ClearCache забывает этап аккаунта, а при accountID == 0 все этапы.
func (m *Manager) ClearCache(accountID int64) {
	if accountID == 0 {
		m.stages.Clear()
		return
	}
	m.stages.Delete(accountID)
}
