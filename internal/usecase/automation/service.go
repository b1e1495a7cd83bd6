package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ig-automation/internal/domain"
	"ig-automation/internal/infra/metrics"
	"ig-automation/internal/usecase/ratelimit"
)

const (
	defaultWarmDuration = 30 * time.Minute
	riskyWarmDuration   = 15 * time.Minute
	autoWarmDuration    = 15 * time.Minute
	criticalBlock       = 48 * time.Hour

	maxSafeActionRisk = 60
	warmShortenRisk   = 30
	autoWarmMaxRisk   = 50
)

// HealthScorer: источник оценки здоровья.
type HealthScorer interface {
	CalculateComprehensiveHealthScore(ctx context.Context, accountID int64) int
	HealthRecommendations(ctx context.Context, accountID int64) []string
}

// RiskScorer: источник оценки риска бана.
type RiskScorer interface {
	CalculateBanRiskScore(ctx context.Context, accountID int64) int
	RiskMitigationAdvice(ctx context.Context, accountID int64) []string
}

// Limiter: операции rate limiter'а, которыми пользуется сервис.
type Limiter interface {
	CanPerformAction(ctx context.Context, accountID int64, action domain.ActionType) (bool, string)
	Reserve(ctx context.Context, accountID int64, action domain.ActionType) (*ratelimit.Reservation, error)
	WaitTime(ctx context.Context, accountID int64, action domain.ActionType) time.Duration
	ActionStats(accountID int64) ratelimit.ActionStats
	BlockAction(accountID int64, action domain.ActionType, duration time.Duration)
}

// Service принимает решения о безопасности автоматизации аккаунтов.
type Service struct {
	accounts domain.AccountRepo
	health   HealthScorer
	risk     RiskScorer
	limiter  Limiter
	warmer   domain.Warmer
	log      zerolog.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewService создаёт сервис автоматизации.
func NewService(accounts domain.AccountRepo, health HealthScorer, risk RiskScorer, limiter Limiter, warmer domain.Warmer, logger zerolog.Logger) *Service {
	return &Service{
		accounts: accounts,
		health:   health,
		risk:     risk,
		limiter:  limiter,
		warmer:   warmer,
		log:      logger.With().Str("component", "automation").Logger(),
		now:      time.Now,
		sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// AccountStatus собирает оценки и статистику аккаунта.
func (s *Service) AccountStatus(ctx context.Context, accountID int64) (Status, error) {
	account, err := s.accounts.GetInstagramAccount(ctx, accountID)
	if err != nil {
		return Status{}, fmt.Errorf("get account %d: %w", accountID, err)
	}
	healthScore := s.health.CalculateComprehensiveHealthScore(ctx, accountID)
	riskScore := s.risk.CalculateBanRiskScore(ctx, accountID)
	return Status{
		AccountID:        accountID,
		Username:         account.Username,
		HealthScore:      healthScore,
		BanRiskScore:     riskScore,
		Label:            LabelFor(healthScore, riskScore),
		Recommendations:  s.health.HealthRecommendations(ctx, accountID),
		RiskMitigation:   s.risk.RiskMitigationAdvice(ctx, accountID),
		ActionStats:      s.limiter.ActionStats(accountID),
		CanWarm:          CanWarm(healthScore, riskScore),
		SuggestedActions: SuggestActions(healthScore, riskScore),
	}, nil
}

// SmartWarmAccount запускает прогрев, если оценки и лимиты это позволяют.
// При риске выше 30 длительность сокращается до 15 минут.
func (s *Service) SmartWarmAccount(ctx context.Context, accountID int64, duration time.Duration) (string, error) {
	if duration <= 0 {
		duration = defaultWarmDuration
	}
	status, err := s.AccountStatus(ctx, accountID)
	if err != nil {
		return "", err
	}
	if !status.CanWarm {
		return "", domain.Refuse(fmt.Sprintf("Прогрев невозможен: статус %s", status.Label))
	}
	if ok, reason := s.limiter.CanPerformAction(ctx, accountID, domain.ActionViewFeed); !ok {
		return "", domain.Refuse(fmt.Sprintf("Достигнуты лимиты: %s", reason))
	}
	if status.BanRiskScore > warmShortenRisk && duration > riskyWarmDuration {
		duration = riskyWarmDuration
		s.log.Info().
			Int64("account", accountID).
			Int("risk", status.BanRiskScore).
			Dur("duration", duration).
			Msg("automation: высокий риск бана, прогрев сокращён")
	}

	message, err := s.warmer.Warm(ctx, accountID, duration)
	if err != nil {
		return message, fmt.Errorf("warm account %d: %w", accountID, err)
	}
	now := s.now()
	if err := s.accounts.UpdateInstagramAccount(ctx, accountID, domain.AccountUpdate{LastWarmup: &now}); err != nil {
		s.log.Error().Err(err).Int64("account", accountID).Msg("automation: не удалось сохранить время прогрева")
	}
	metrics.AutomationActions.WithLabelValues("warm").Inc()
	s.log.Info().Int64("account", accountID).Msg("automation: прогрев завершён")
	return message, nil
}

// PerformSafeAction выполняет fn, если риск допустим и лимит свободен.
// Слот резервируется до ожидания и подтверждается только после успешного fn.
// Отказы возвращаются как *domain.Refusal.
func (s *Service) PerformSafeAction(ctx context.Context, accountID int64, action domain.ActionType, fn func(ctx context.Context) (string, error)) (string, error) {
	if s.risk.CalculateBanRiskScore(ctx, accountID) > maxSafeActionRisk {
		return "", domain.Refuse("Слишком высокий риск бана")
	}
	reservation, err := s.limiter.Reserve(ctx, accountID, action)
	if err != nil {
		return "", err
	}

	wait := s.limiter.WaitTime(ctx, accountID, action)
	s.log.Info().
		Int64("account", accountID).
		Str("action", string(action)).
		Dur("wait", wait).
		Msg("automation: ожидание перед действием")
	if err := s.sleep(ctx, wait); err != nil {
		reservation.Cancel()
		return "", err
	}

	result, err := fn(ctx)
	if err != nil {
		reservation.Cancel()
		return result, err
	}
	reservation.Commit()
	return result, nil
}

// DailyRecommendations собирает статусы всех активных аккаунтов.
func (s *Service) DailyRecommendations(ctx context.Context) (map[int64]Digest, error) {
	accounts, err := s.accounts.ListInstagramAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	out := make(map[int64]Digest)
	for _, acc := range accounts {
		if !acc.IsActive {
			continue
		}
		status, err := s.AccountStatus(ctx, acc.ID)
		if err != nil {
			s.log.Error().Err(err).Int64("account", acc.ID).Msg("automation: не удалось получить статус")
			continue
		}
		out[acc.ID] = Digest{
			Username:    acc.Username,
			Label:       status.Label,
			HealthScore: status.HealthScore,
			BanRisk:     status.BanRiskScore,
			Actions:     status.SuggestedActions,
		}
	}
	return out, nil
}

// ManageReport: итог раунда автоматического управления.
type ManageReport struct {
	Checked    int     `json:"checked"`
	Blocked    []int64 `json:"blocked"`
	Warmed     []int64 `json:"warmed"`
	WarmFailed []int64 `json:"warm_failed"`
}

// AutoManageAccounts блокирует аккаунты с критическим риском на 48 часов
// и запускает лёгкий прогрев для нездоровых аккаунтов с умеренным риском.
func (s *Service) AutoManageAccounts(ctx context.Context) (ManageReport, error) {
	s.log.Info().Msg("automation: запуск автоматического управления аккаунтами")
	digests, err := s.DailyRecommendations(ctx)
	if err != nil {
		return ManageReport{}, err
	}
	report := ManageReport{Checked: len(digests), Blocked: []int64{}, Warmed: []int64{}, WarmFailed: []int64{}}
	for _, id := range sortedIDs(digests) {
		d := digests[id]
		s.log.Info().
			Str("username", d.Username).
			Str("status", string(d.Label)).
			Int("health", d.HealthScore).
			Int("risk", d.BanRisk).
			Msg("automation: аккаунт проверен")

		switch {
		case d.Label == LabelCriticalRisk:
			for _, action := range domain.AllActionTypes() {
				s.limiter.BlockAction(id, action, criticalBlock)
			}
			report.Blocked = append(report.Blocked, id)
			metrics.AutomationActions.WithLabelValues("block").Inc()
			s.log.Warn().Str("username", d.Username).Msg("automation: аккаунт заблокирован на 48 часов")
		case (d.Label == LabelNeedsAttention || d.Label == LabelUnhealthy) && d.BanRisk < autoWarmMaxRisk:
			if _, err := s.SmartWarmAccount(ctx, id, autoWarmDuration); err != nil {
				s.log.Warn().Err(err).Int64("account", id).Msg("automation: автоматический прогрев не выполнен")
				report.WarmFailed = append(report.WarmFailed, id)
				continue
			}
			report.Warmed = append(report.Warmed, id)
		}
	}
	return report, nil
}
