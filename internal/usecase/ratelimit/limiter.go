package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ig-automation/internal/domain"
	"ig-automation/internal/infra/metrics"
)

const (
	window      = 24 * time.Hour
	hourWindow  = time.Hour
	minInterval = 2 * time.Second
	minWait     = 2 * time.Second
	jitterShare = 0.2
)

// AccountGetter возвращает аккаунт по идентификатору.
type AccountGetter interface {
	GetInstagramAccount(ctx context.Context, id int64) (domain.InstagramAccount, error)
}

type actionKey struct {
	accountID int64
	action    domain.ActionType
}

// Limiter: централизованный контроль частоты действий аккаунтов.
// Хранит отметки времени за последние 24 часа и временные блокировки.
type Limiter struct {
	mu       sync.Mutex
	actions  map[actionKey][]time.Time
	blocks   map[actionKey]time.Time
	accounts AccountGetter
	log      zerolog.Logger
	now      func() time.Time
	jitter   func() float64
}

// Option настраивает Limiter.
type Option func(*Limiter)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithJitter подменяет источник случайности для WaitTime; fn возвращает значение в [0,1).
func WithJitter(fn func() float64) Option {
	return func(l *Limiter) {
		if fn != nil {
			l.jitter = fn
		}
	}
}

// New создаёт rate limiter.
func New(accounts AccountGetter, logger zerolog.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		actions:  make(map[actionKey][]time.Time),
		blocks:   make(map[actionKey]time.Time),
		accounts: accounts,
		log:      logger.With().Str("component", "ratelimit").Logger(),
		now:      time.Now,
		jitter:   rand.Float64,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Limits возвращает лимиты аккаунта с учётом возраста.
func (l *Limiter) Limits(ctx context.Context, accountID int64) Limits {
	return LimitsForAge(l.accountAgeDays(ctx, accountID))
}

// CanPerformAction проверяет, можно ли выполнить действие сейчас.
// Порядок проверок: блокировка, часовой лимит, дневной лимит, минимальный интервал.
func (l *Limiter) CanPerformAction(ctx context.Context, accountID int64, action domain.ActionType) (bool, string) {
	limits := l.Limits(ctx, accountID)

	l.mu.Lock()
	defer l.mu.Unlock()
	if reason := l.checkLocked(actionKey{accountID, action}, limits); reason != "" {
		return false, reason
	}
	return true, ""
}

// RecordAction записывает выполненное действие.
func (l *Limiter) RecordAction(accountID int64, action domain.ActionType) {
	l.mu.Lock()
	key := actionKey{accountID, action}
	l.actions[key] = append(l.actions[key], l.now())
	l.mu.Unlock()
	l.log.Debug().Int64("account", accountID).Str("action", string(action)).Msg("ratelimit: действие записано")
}

// Reserve атомарно проверяет лимиты и занимает слот под действие.
// Слот учитывается сразу; Commit подтверждает его временем завершения, Cancel освобождает.
func (l *Limiter) Reserve(ctx context.Context, accountID int64, action domain.ActionType) (*Reservation, error) {
	limits := l.Limits(ctx, accountID)
	key := actionKey{accountID, action}

	l.mu.Lock()
	defer l.mu.Unlock()
	if reason := l.checkLocked(key, limits); reason != "" {
		return nil, domain.Refuse(reason)
	}
	stamp := l.now()
	l.actions[key] = append(l.actions[key], stamp)
	return &Reservation{limiter: l, key: key, stamp: stamp}, nil
}

// BlockAction временно блокирует действие независимо от лимитов.
func (l *Limiter) BlockAction(accountID int64, action domain.ActionType, duration time.Duration) {
	l.mu.Lock()
	l.blocks[actionKey{accountID, action}] = l.now().Add(duration)
	l.mu.Unlock()
	metrics.RateLimitBlocks.WithLabelValues(string(action)).Inc()
	l.log.Warn().
		Int64("account", accountID).
		Str("action", string(action)).
		Dur("duration", duration).
		Msg("ratelimit: действие заблокировано")
}

// WaitTime возвращает рекомендуемую паузу перед действием. Лимитер её не навязывает.
func (l *Limiter) WaitTime(ctx context.Context, accountID int64, action domain.ActionType) time.Duration {
	var base float64
	switch LimitsForAge(l.accountAgeDays(ctx, accountID)).Tier {
	case TierNew:
		base = 30
	case TierMid:
		base = 15
	default:
		base = 5
	}
	variation := base * jitterShare
	seconds := base - variation + l.jitter()*2*variation
	wait := time.Duration(int(seconds)) * time.Second
	if wait < minWait {
		return minWait
	}
	return wait
}

// ActionStats содержит счётчики действий по окнам.
type ActionStats struct {
	Hourly map[domain.ActionType]int `json:"hourly"`
	Daily  map[domain.ActionType]int `json:"daily"`
}

// ActionStats возвращает счётчики за час и за сутки для всех типов действий.
func (l *Limiter) ActionStats(accountID int64) ActionStats {
	stats := ActionStats{Hourly: map[domain.ActionType]int{}, Daily: map[domain.ActionType]int{}}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for _, action := range domain.AllActionTypes() {
		stamps := l.actions[actionKey{accountID, action}]
		stats.Hourly[action] = countSince(stamps, now.Add(-hourWindow))
		stats.Daily[action] = countSince(stamps, now.Add(-window))
	}
	return stats
}

// Blocks возвращает действующие блокировки.
func (l *Limiter) Blocks() []domain.BlockRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	out := make([]domain.BlockRecord, 0, len(l.blocks))
	for key, until := range l.blocks {
		if now.Before(until) {
			out = append(out, domain.BlockRecord{AccountID: key.accountID, Action: key.action, Until: until})
		}
	}
	return out
}

// RestoreBlocks восстанавливает блокировки из снимка, пропуская истёкшие.
func (l *Limiter) RestoreBlocks(records []domain.BlockRecord) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	restored := 0
	for _, rec := range records {
		if !now.Before(rec.Until) {
			continue
		}
		key := actionKey{rec.AccountID, rec.Action}
		if current, ok := l.blocks[key]; ok && current.After(rec.Until) {
			continue
		}
		l.blocks[key] = rec.Until
		restored++
	}
	return restored
}

func (l *Limiter) checkLocked(key actionKey, limits Limits) string {
	now := l.now()
	if unlock, ok := l.blocks[key]; ok && now.Before(unlock) {
		metrics.RateLimitRefusals.WithLabelValues(string(key.action), "blocked").Inc()
		return fmt.Sprintf("Действие %s заблокировано на %d секунд", key.action, int(unlock.Sub(now).Seconds()))
	}

	stamps := l.pruneLocked(key, now)

	hourly := countSince(stamps, now.Add(-hourWindow))
	if hourlyLimit := limits.Hourly[key.action]; hourly >= hourlyLimit {
		metrics.RateLimitRefusals.WithLabelValues(string(key.action), "hourly").Inc()
		return fmt.Sprintf("Достигнут часовой лимит (%d/%d) для %s", hourly, hourlyLimit, key.action)
	}

	daily := len(stamps)
	if dailyLimit := limits.Daily[key.action]; daily >= dailyLimit {
		metrics.RateLimitRefusals.WithLabelValues(string(key.action), "daily").Inc()
		return fmt.Sprintf("Достигнут дневной лимит (%d/%d) для %s", daily, dailyLimit, key.action)
	}

	if n := len(stamps); n > 0 && now.Sub(stamps[n-1]) < minInterval {
		metrics.RateLimitRefusals.WithLabelValues(string(key.action), "pacing").Inc()
		return "Слишком быстрые действия, подождите 2 секунды"
	}
	return ""
}

// pruneLocked удаляет отметки старше 24 часов. Отметки хранятся по возрастанию.
func (l *Limiter) pruneLocked(key actionKey, now time.Time) []time.Time {
	stamps := l.actions[key]
	cutoff := now.Add(-window)
	idx := 0
	for idx < len(stamps) && !stamps[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		stamps = append([]time.Time(nil), stamps[idx:]...)
		if len(stamps) == 0 {
			delete(l.actions, key)
		} else {
			l.actions[key] = stamps
		}
	}
	return stamps
}

func (l *Limiter) accountAgeDays(ctx context.Context, accountID int64) int {
	if l.accounts == nil {
		return 0
	}
	account, err := l.accounts.GetInstagramAccount(ctx, accountID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			l.log.Error().Err(err).Int64("account", accountID).Msg("ratelimit: не удалось получить возраст аккаунта, считаем новым")
		}
		return 0
	}
	return account.AgeDays(l.now())
}

func countSince(stamps []time.Time, since time.Time) int {
	count := 0
	for i := len(stamps) - 1; i >= 0; i-- {
		if !stamps[i].After(since) {
			break
		}
		count++
	}
	return count
}

// Reservation: занятый слот действия.
type Reservation struct {
	limiter *Limiter
	key     actionKey
	stamp   time.Time
	done    bool
}

// Commit подтверждает действие временем завершения.
func (r *Reservation) Commit() {
	r.finish(true)
}

// Cancel освобождает слот, если действие не состоялось.
func (r *Reservation) Cancel() {
	r.finish(false)
}

func (r *Reservation) finish(commit bool) {
	if r == nil {
		return
	}
	l := r.limiter
	l.mu.Lock()
	defer l.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	stamps := l.actions[r.key]
	for i := len(stamps) - 1; i >= 0; i-- {
		if stamps[i].Equal(r.stamp) {
			stamps = append(stamps[:i:i], stamps[i+1:]...)
			break
		}
	}
	if commit {
		stamps = append(stamps, l.now())
	}
	if len(stamps) == 0 {
		delete(l.actions, r.key)
		return
	}
	l.actions[r.key] = stamps
}
