package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ig-automation/internal/domain"
	"ig-automation/internal/infra/cache"
)

const (
	cacheTTL       = 600 * time.Second
	unknownRisk    = 50
	maxAdviceItems = 10

	weightAge      = 0.25
	weightVelocity = 0.30
	weightPattern  = 0.25
	weightHistory  = 0.20
)

// Level: уровень риска бана.
type Level string

const (
	LevelCritical Level = "CRITICAL"
	LevelHigh     Level = "HIGH"
	LevelMedium   Level = "MEDIUM"
	LevelLow      Level = "LOW"
	LevelMinimal  Level = "MINIMAL"
)

var levelTitles = map[Level]string{
	LevelCritical: "КРИТИЧЕСКИЙ",
	LevelHigh:     "ВЫСОКИЙ",
	LevelMedium:   "СРЕДНИЙ",
	LevelLow:      "НИЗКИЙ",
	LevelMinimal:  "МИНИМАЛЬНЫЙ",
}

// Title возвращает название уровня для пользователя.
func (l Level) Title() string {
	return levelTitles[l]
}

// Levels возвращает уровни от самого опасного.
func Levels() []Level {
	return []Level{LevelCritical, LevelHigh, LevelMedium, LevelLow, LevelMinimal}
}

// LevelFor переводит балл в уровень риска.
func LevelFor(score int) Level {
	switch {
	case score >= 80:
		return LevelCritical
	case score >= 60:
		return LevelHigh
	case score >= 40:
		return LevelMedium
	case score >= 20:
		return LevelLow
	default:
		return LevelMinimal
	}
}

// Components: составляющие риска.
type Components struct {
	Age      int `json:"age_risk"`
	Velocity int `json:"velocity_risk"`
	Pattern  int `json:"pattern_risk"`
	History  int `json:"history_risk"`
}

// Assessment: рассчитанный риск бана.
type Assessment struct {
	Score      int        `json:"score"`
	Level      Level      `json:"level"`
	Components Components `json:"components"`
}

// Combine складывает компоненты с фиксированными весами.
func Combine(c Components) Assessment {
	sum := float64(c.Age)*weightAge +
		float64(c.Velocity)*weightVelocity +
		float64(c.Pattern)*weightPattern +
		float64(c.History)*weightHistory
	score := clamp(int(sum))
	return Assessment{Score: score, Level: LevelFor(score), Components: c}
}

// AgeRisk: чем новее аккаунт, тем выше риск.
func AgeRisk(ageDays int) int {
	switch {
	case ageDays < 1:
		return 90
	case ageDays < 3:
		return 80
	case ageDays < 7:
		return 70
	case ageDays < 14:
		return 50
	case ageDays < 30:
		return 30
	case ageDays < 90:
		return 20
	default:
		return 10
	}
}

// AccountSource даёт доступ к аккаунтам.
type AccountSource interface {
	GetInstagramAccount(ctx context.Context, id int64) (domain.InstagramAccount, error)
	ListInstagramAccounts(ctx context.Context) ([]domain.InstagramAccount, error)
}

// Monitor: предиктивная оценка риска бана.
type Monitor struct {
	accounts AccountSource
	signals  SignalProvider
	cache    *cache.Memory[int64, Assessment]
	log      zerolog.Logger
	now      func() time.Time
}

// NewMonitor создаёт монитор. signals == nil означает RandomSignals.
func NewMonitor(accounts AccountSource, signals SignalProvider, logger zerolog.Logger, now func() time.Time) *Monitor {
	if signals == nil {
		signals = RandomSignals{}
	}
	if now == nil {
		now = time.Now
	}
	return &Monitor{
		accounts: accounts,
		signals:  signals,
		cache:    cache.NewMemory[int64, Assessment](cacheTTL, now),
		log:      logger.With().Str("component", "risk").Logger(),
		now:      now,
	}
}

// CalculateBanRiskScore возвращает риск 0..100; при ошибке данных 50.
func (m *Monitor) CalculateBanRiskScore(ctx context.Context, accountID int64) int {
	a, err := m.Assess(ctx, accountID)
	if err != nil {
		return unknownRisk
	}
	return a.Score
}

// Assess возвращает оценку с компонентами, используя кэш.
func (m *Monitor) Assess(ctx context.Context, accountID int64) (Assessment, error) {
	a, err := m.cache.Load(accountID, func() (Assessment, error) {
		account, err := m.accounts.GetInstagramAccount(ctx, accountID)
		if err != nil {
			return Assessment{}, err
		}
		a := Combine(Components{
			Age:      AgeRisk(account.AgeDays(m.now())),
			Velocity: clamp(m.signals.VelocityRisk(ctx, account)),
			Pattern:  clamp(m.signals.PatternRisk(ctx, account)),
			History:  clamp(m.signals.HistoryRisk(ctx, account)),
		})
		m.log.Info().
			Int64("account", accountID).
			Int("score", a.Score).
			Str("level", a.Level.Title()).
			Msg("risk: риск бана рассчитан")
		return a, nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			m.log.Error().Err(err).Int64("account", accountID).Msg("risk: ошибка расчёта риска")
		}
		return Assessment{}, err
	}
	return a, nil
}

var componentAdvice = struct {
	age, velocity, pattern, history []string
}{
	age: []string{
		"Аккаунт слишком новый - увеличьте период прогрева",
		"Минимизируйте активность в первые недели",
		"Сосредоточьтесь на создании качественного контента",
	},
	velocity: []string{
		"Снизьте интенсивность действий",
		"Увеличьте случайные задержки между действиями",
		"Распределите активность равномерно по времени",
	},
	pattern: []string{
		"Увеличьте разнообразие в паттернах активности",
		"Избегайте повторяющихся временных интервалов",
		"Варьируйте типы взаимодействий",
	},
	history: []string{
		"В прошлом были ограничения - будьте особенно осторожны",
		"Временно снизьте все виды активности",
		"Рассмотрите смену стратегии",
	},
}

// Advice строит список советов по оценке: сначала по компонентам, затем по уровню.
func Advice(a Assessment) []string {
	var advice []string
	const severe = 60
	if a.Components.Age > severe {
		advice = append(advice, componentAdvice.age...)
	}
	if a.Components.Velocity > severe {
		advice = append(advice, componentAdvice.velocity...)
	}
	if a.Components.Pattern > severe {
		advice = append(advice, componentAdvice.pattern...)
	}
	if a.Components.History > severe {
		advice = append(advice, componentAdvice.history...)
	}

	switch {
	case a.Score >= 80:
		advice = append(advice,
			"КРИТИЧЕСКИЙ РИСК: Немедленно остановите автоматизацию",
			"Переведите аккаунт в ручной режим",
			"Проанализируйте последние действия",
		)
	case a.Score >= 60:
		advice = append(advice,
			"ВЫСОКИЙ РИСК: Значительно снизьте активность",
			"Увеличьте интервалы между действиями в 2-3 раза",
		)
	case a.Score >= 40:
		advice = append(advice,
			"СРЕДНИЙ РИСК: Слегка снизьте активность",
			"Добавьте больше случайности в действия",
		)
	default:
		advice = append(advice,
			"НИЗКИЙ РИСК: Продолжайте текущую стратегию",
			"Поддерживайте текущий уровень активности",
		)
	}

	seen := make(map[string]struct{}, len(advice))
	out := make([]string, 0, maxAdviceItems)
	for _, line := range advice {
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
		if len(out) == maxAdviceItems {
			break
		}
	}
	return out
}

// RiskMitigationAdvice возвращает советы по снижению риска для аккаунта.
func (m *Monitor) RiskMitigationAdvice(ctx context.Context, accountID int64) []string {
	a, err := m.Assess(ctx, accountID)
	if err != nil {
		return []string{"Не удалось получить данные о рисках"}
	}
	return Advice(a)
}

// AccountRisk: строка сводки.
type AccountRisk struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Score    int    `json:"score"`
}

// Summary: распределение рисков по всем аккаунтам.
type Summary struct {
	Distribution  map[Level][]AccountRisk `json:"risk_distribution"`
	AverageRisk   int                     `json:"average_risk"`
	TotalAccounts int                     `json:"total_accounts"`
	HighRiskCount int                     `json:"high_risk_count"`
	AnalyzedAt    time.Time               `json:"analysis_timestamp"`
}

// AccountsRiskSummary считает сводку рисков по всем аккаунтам.
func (m *Monitor) AccountsRiskSummary(ctx context.Context) (Summary, error) {
	accounts, err := m.accounts.ListInstagramAccounts(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("risk: не удалось получить список аккаунтов для сводки")
		return Summary{}, fmt.Errorf("list accounts: %w", err)
	}
	summary := Summary{
		Distribution:  make(map[Level][]AccountRisk, len(levelTitles)),
		TotalAccounts: len(accounts),
		AnalyzedAt:    m.now(),
	}
	for _, level := range Levels() {
		summary.Distribution[level] = []AccountRisk{}
	}
	total := 0
	for _, acc := range accounts {
		score := m.CalculateBanRiskScore(ctx, acc.ID)
		total += score
		level := LevelFor(score)
		summary.Distribution[level] = append(summary.Distribution[level], AccountRisk{ID: acc.ID, Username: acc.Username, Score: score})
	}
	if len(accounts) > 0 {
		summary.AverageRisk = total / len(accounts)
	}
	summary.HighRiskCount = len(summary.Distribution[LevelCritical]) + len(summary.Distribution[LevelHigh])
	m.log.Info().
		Int("average", summary.AverageRisk).
		Int("high_risk", summary.HighRiskCount).
		Msg("risk: сводка рисков построена")
	return summary, nil
}

// ClearCache сбрасывает кэш аккаунта, а при accountID == 0 весь кэш.
func (m *Monitor) ClearCache(accountID int64) {
	if accountID == 0 {
		m.cache.Clear()
		return
	}
	m.cache.Delete(accountID)
}

func clamp(v int) int {
	return max(0, min(100, v))
}
