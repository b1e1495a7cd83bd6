package health

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"ig-automation/internal/domain"
	"ig-automation/internal/infra/cache"
)

const cacheTTL = 300 * time.Second

// AccountGetter возвращает аккаунт по идентификатору.
type AccountGetter interface {
	GetInstagramAccount(ctx context.Context, id int64) (domain.InstagramAccount, error)
}

// Components: промежуточные оценки, из которых складывается итоговый балл.
type Components struct {
	Age          int `json:"age"`
	Activity     int `json:"activity"`
	Restrictions int `json:"restrictions"`
	Session      int `json:"session"`
}

// Report: итоговый health score вместе с компонентами.
type Report struct {
	Score      int        `json:"score"`
	Components Components `json:"components"`
}

// Evaluate считает оценку здоровья аккаунта.
// Каждый компонент умножает текущий балл, поэтому слабость в одном измерении тянет вниз весь результат.
func Evaluate(account domain.InstagramAccount, now time.Time) Report {
	c := Components{
		Age:          ageFactor(account.AgeDays(now)),
		Activity:     byActivity(account.IsActive, 90, 30),
		Restrictions: byActivity(account.IsActive, 95, 50),
		Session:      byActivity(account.IsActive, 90, 40),
	}
	score := 100.0
	for _, part := range []int{c.Age, c.Activity, c.Restrictions, c.Session} {
		score *= float64(part) / 100
	}
	return Report{Score: clamp(int(score)), Components: c}
}

func ageFactor(ageDays int) int {
	switch {
	case ageDays >= 365:
		return 100
	case ageDays >= 90:
		return 80
	case ageDays >= 30:
		return 60
	case ageDays >= 7:
		return 40
	default:
		return 20
	}
}

func byActivity(active bool, yes, no int) int {
	if active {
		return yes
	}
	return no
}

func clamp(v int) int {
	return max(0, min(100, v))
}

// Monitor считает и кэширует оценки здоровья аккаунтов.
type Monitor struct {
	accounts AccountGetter
	cache    *cache.Memory[int64, Report]
	log      zerolog.Logger
	now      func() time.Time
}

// NewMonitor создаёт монитор здоровья. now может быть nil.
func NewMonitor(accounts AccountGetter, logger zerolog.Logger, now func() time.Time) *Monitor {
	if now == nil {
		now = time.Now
	}
	return &Monitor{
		accounts: accounts,
		cache:    cache.NewMemory[int64, Report](cacheTTL, now),
		log:      logger.With().Str("component", "health").Logger(),
		now:      now,
	}
}

// CalculateComprehensiveHealthScore возвращает балл 0..100. При ошибке доступа к данным возвращает 0.
func (m *Monitor) CalculateComprehensiveHealthScore(ctx context.Context, accountID int64) int {
	report, err := m.report(ctx, accountID)
	if err != nil {
		return 0
	}
	return report.Score
}

// Report возвращает оценку с компонентами.
func (m *Monitor) Report(ctx context.Context, accountID int64) (Report, error) {
	return m.report(ctx, accountID)
}

// HealthRecommendations переводит слабые компоненты в текстовые советы.
func (m *Monitor) HealthRecommendations(ctx context.Context, accountID int64) []string {
	report, err := m.report(ctx, accountID)
	if err != nil {
		return []string{"Не удалось получить данные о здоровье аккаунта"}
	}
	c := report.Components
	var out []string
	if c.Age < 60 {
		out = append(out, "Аккаунт слишком новый - требуется время для созревания")
	}
	if c.Activity < 70 {
		out = append(out, "Недостаточная активность - увеличьте взаимодействие")
	}
	if c.Restrictions < 80 {
		out = append(out, "Обнаружены ограничения - снизьте активность")
	}
	if c.Session < 70 {
		out = append(out, "Проблемы с сессией - требуется повторная авторизация")
	}
	if len(out) == 0 {
		out = append(out, "Аккаунт в отличном состоянии!")
	}
	return out
}

// ClearCache сбрасывает кэш для аккаунта, а при accountID == 0 для всех.
func (m *Monitor) ClearCache(accountID int64) {
	if accountID == 0 {
		m.cache.Clear()
		m.log.Info().Msg("health: кэш очищен для всех аккаунтов")
		return
	}
	m.cache.Delete(accountID)
	m.log.Info().Int64("account", accountID).Msg("health: кэш очищен")
}

func (m *Monitor) report(ctx context.Context, accountID int64) (Report, error) {
	report, err := m.cache.Load(accountID, func() (Report, error) {
		account, err := m.accounts.GetInstagramAccount(ctx, accountID)
		if err != nil {
			return Report{}, err
		}
		r := Evaluate(account, m.now())
		m.log.Info().Int64("account", accountID).Int("score", r.Score).Msg("health: оценка рассчитана")
		return r, nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			m.log.Error().Err(err).Int64("account", accountID).Msg("health: ошибка расчёта оценки")
		}
		return Report{}, err
	}
	return report, nil
}
