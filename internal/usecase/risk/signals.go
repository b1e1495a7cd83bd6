package risk

import (
	"context"
	"math/rand"

	"ig-automation/internal/domain"
	"ig-automation/internal/usecase/ratelimit"
)

// SignalProvider отдаёт поведенческие компоненты риска в диапазоне 0..100.
type SignalProvider interface {
	VelocityRisk(ctx context.Context, account domain.InstagramAccount) int
	PatternRisk(ctx context.Context, account domain.InstagramAccount) int
	HistoryRisk(ctx context.Context, account domain.InstagramAccount) int
}

// RandomSignals: заглушка без реальной телеметрии: значения случайны в ограниченных диапазонах.
type RandomSignals struct {
	// Intn возвращает число в [0,n). По умолчанию math/rand.
	Intn func(n int) int
}

func (r RandomSignals) between(lo, hi int) int {
	intn := r.Intn
	if intn == nil {
		intn = rand.Intn
	}
	return lo + intn(hi-lo+1)
}

func (r RandomSignals) VelocityRisk(context.Context, domain.InstagramAccount) int {
	return r.between(10, 40)
}

func (r RandomSignals) PatternRisk(context.Context, domain.InstagramAccount) int {
	return r.between(5, 35)
}

func (r RandomSignals) HistoryRisk(_ context.Context, account domain.InstagramAccount) int {
	if !account.IsActive {
		return 80
	}
	return r.between(5, 25)
}

// UsageSource: фактическое использование лимитов аккаунтом.
type UsageSource interface {
	Limits(ctx context.Context, accountID int64) ratelimit.Limits
	ActionStats(accountID int64) ratelimit.ActionStats
}

// UsageSignals считает риск скорости по заполненности окон rate limiter'а.
// Остальные компоненты берутся из Fallback.
type UsageSignals struct {
	Usage    UsageSource
	Fallback SignalProvider
}

// VelocityRisk растёт от 10 при пустых окнах до 100 при исчерпанном лимите.
func (u UsageSignals) VelocityRisk(ctx context.Context, account domain.InstagramAccount) int {
	limits := u.Usage.Limits(ctx, account.ID)
	stats := u.Usage.ActionStats(account.ID)
	var ratio float64
	for action, used := range stats.Hourly {
		if limit := limits.Hourly[action]; limit > 0 {
			ratio = max(ratio, float64(used)/float64(limit))
		}
	}
	for action, used := range stats.Daily {
		if limit := limits.Daily[action]; limit > 0 {
			ratio = max(ratio, float64(used)/float64(limit))
		}
	}
	return clamp(10 + int(ratio*90))
}

func (u UsageSignals) PatternRisk(ctx context.Context, account domain.InstagramAccount) int {
	return u.fallback().PatternRisk(ctx, account)
}

func (u UsageSignals) HistoryRisk(ctx context.Context, account domain.InstagramAccount) int {
	return u.fallback().HistoryRisk(ctx, account)
}

func (u UsageSignals) fallback() SignalProvider {
	if u.Fallback == nil {
		return RandomSignals{}
	}
	return u.Fallback
}
