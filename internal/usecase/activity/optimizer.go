package activity

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ig-automation/internal/domain"
	"ig-automation/internal/infra/metrics"
)

const (
	DefaultCooldown     = 30 * time.Minute
	EvictionCooldown    = 15 * time.Minute
	IdleCooldown        = 15 * time.Minute
	IdleTimeout         = 45 * time.Minute
	quotaRetry          = 300 * time.Second
	evictPriorityFloor  = 3
	memoryPerAccountMB  = 4
	maxSavingsPercent   = 75
	defaultMaxPerHour   = 20
	defaultMaxAccounts  = 75
	defaultRequestsRPM  = 300
	premiumMaxAccounts  = 100
	premiumRequestsRPM  = 400
	premiumPriorityMult = 1.5
	admitPriority       = 3
)

// DefaultActiveHours: часы 8:00–21:59.
func DefaultActiveHours() []int {
	hours := make([]int, 0, 14)
	for h := 8; h < 22; h++ {
		hours = append(hours, h)
	}
	return hours
}

// AccountActivity: состояние аккаунта в оптимизаторе.
type AccountActivity struct {
	AccountID          int64
	UserID             int64
	LastActivity       time.Time
	TotalRequestsToday int
	Priority           int
	MaxRequestsPerHour int
	// ActiveHours: отсортированные часы суток; пустой набор означает «в любое время».
	ActiveHours   []int
	CooldownUntil time.Time
	IsWarmingUp   bool
}

// UserQuota: квоты пользователя.
type UserQuota struct {
	UserID                int64
	MaxConcurrentAccounts int
	MaxRequestsPerMinute  int
	CurrentActiveAccounts int
	PriorityBoost         float64
}

func defaultQuota(userID int64) *UserQuota {
	return &UserQuota{
		UserID:                userID,
		MaxConcurrentAccounts: defaultMaxAccounts,
		MaxRequestsPerMinute:  defaultRequestsRPM,
		PriorityBoost:         1,
	}
}

// Decision: результат проверки перед активацией.
type Decision struct {
	Allowed  bool          `json:"allowed"`
	Reason   string        `json:"reason"`
	WaitTime time.Duration `json:"wait_time"`
}

// Optimizer ограничивает число одновременно активных аккаунтов.
// Все поля защищены mu; методы с суффиксом Locked ожидают, что блокировка уже взята.
type Optimizer struct {
	mu       sync.Mutex
	accounts map[int64]*AccountActivity
	quotas   map[int64]*UserQuota
	active   map[int64]struct{}
	waiting  []int64
	// restored: кулдауны из снимка для ещё не зарегистрированных аккаунтов.
	restored map[int64]time.Time

	rotations     int
	optimizations int
	memorySavedMB int

	log zerolog.Logger
	now func() time.Time
}

// Option настраивает Optimizer.
type Option func(*Optimizer)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(o *Optimizer) {
		if now != nil {
			o.now = now
		}
	}
}

// New создаёт оптимизатор активности.
func New(logger zerolog.Logger, opts ...Option) *Optimizer {
	o := &Optimizer{
		accounts: make(map[int64]*AccountActivity),
		quotas:   make(map[int64]*UserQuota),
		active:   make(map[int64]struct{}),
		restored: make(map[int64]time.Time),
		log:      logger.With().Str("component", "activity").Logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RegisterAccount добавляет аккаунт или обновляет приоритет уже известного.
func (o *Optimizer) RegisterAccount(accountID, userID int64, priority, maxRequestsPerHour int) {
	priority = max(1, min(5, priority))
	if maxRequestsPerHour <= 0 {
		maxRequestsPerHour = defaultMaxPerHour
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if acc, ok := o.accounts[accountID]; ok {
		if acc.UserID != userID {
			if o.isActiveLocked(accountID) {
				o.releaseSlotLocked(acc)
			}
			acc.UserID = userID
		}
		acc.Priority = priority
		acc.MaxRequestsPerHour = maxRequestsPerHour
	} else {
		acc := &AccountActivity{
			AccountID:          accountID,
			UserID:             userID,
			Priority:           priority,
			MaxRequestsPerHour: maxRequestsPerHour,
			ActiveHours:        DefaultActiveHours(),
		}
		if until, ok := o.restored[accountID]; ok {
			acc.CooldownUntil = until
			delete(o.restored, accountID)
		}
		o.accounts[accountID] = acc
	}
	if _, ok := o.quotas[userID]; !ok {
		o.quotas[userID] = defaultQuota(userID)
	}
	o.log.Debug().
		Int64("account", accountID).
		Int64("user", userID).
		Int("priority", priority).
		Msg("activity: аккаунт зарегистрирован")
}

// SetActiveHours задаёт часы, в которые аккаунт может работать.
func (o *Optimizer) SetActiveHours(accountID int64, hours []int) error {
	normalized := make([]int, 0, len(hours))
	seen := make(map[int]struct{}, len(hours))
	for _, h := range hours {
		if h < 0 || h > 23 {
			return fmt.Errorf("hour %d out of range", h)
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		normalized = append(normalized, h)
	}
	sort.Ints(normalized)

	o.mu.Lock()
	defer o.mu.Unlock()
	acc, ok := o.accounts[accountID]
	if !ok {
		return domain.ErrNotFound
	}
	acc.ActiveHours = normalized
	return nil
}

// SetUserPremiumStatus переключает квоты пользователя между базовыми и премиум.
func (o *Optimizer) SetUserPremiumStatus(userID int64, premium bool) {
	o.mu.Lock()
	quota, ok := o.quotas[userID]
	if !ok {
		quota = defaultQuota(userID)
		o.quotas[userID] = quota
	}
	if premium {
		quota.MaxConcurrentAccounts = premiumMaxAccounts
		quota.MaxRequestsPerMinute = premiumRequestsRPM
		quota.PriorityBoost = premiumPriorityMult
	} else {
		quota.MaxConcurrentAccounts = defaultMaxAccounts
		quota.MaxRequestsPerMinute = defaultRequestsRPM
		quota.PriorityBoost = 1
	}
	o.mu.Unlock()
	o.log.Info().Int64("user", userID).Bool("premium", premium).Msg("activity: статус пользователя изменён")
}

// SetUserQuota задаёт лимит одновременно активных аккаунтов пользователя.
func (o *Optimizer) SetUserQuota(userID int64, maxConcurrent int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	quota, ok := o.quotas[userID]
	if !ok {
		quota = defaultQuota(userID)
		o.quotas[userID] = quota
	}
	quota.MaxConcurrentAccounts = max(0, maxConcurrent)
}

// ShouldActivateAccount проверяет, можно ли активировать аккаунт сейчас.
// Проверка не меняет состояние: вытеснение выполняет только ActivateAccount.
func (o *Optimizer) ShouldActivateAccount(accountID int64) Decision {
	o.mu.Lock()
	defer o.mu.Unlock()
	decision, _ := o.decideLocked(accountID)
	return decision
}

// ActivateAccount активирует аккаунт или ставит его в очередь ожидания.
func (o *Optimizer) ActivateAccount(accountID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	ok := o.activateLocked(accountID)
	o.publishGaugesLocked()
	return ok
}

// Admit активирует аккаунт под задачу публикации.
// Неизвестный аккаунт регистрируется с приоритетом по умолчанию и без ограничения часов.
// В отличие от ActivateAccount отказ не ставит аккаунт в очередь ожидания.
func (o *Optimizer) Admit(accountID, userID int64) Decision {
	o.mu.Lock()
	defer o.mu.Unlock()

	acc, ok := o.accounts[accountID]
	if !ok {
		acc = &AccountActivity{
			AccountID:          accountID,
			UserID:             userID,
			Priority:           admitPriority,
			MaxRequestsPerHour: defaultMaxPerHour,
		}
		if until, restored := o.restored[accountID]; restored {
			acc.CooldownUntil = until
			delete(o.restored, accountID)
		}
		o.accounts[accountID] = acc
		if _, known := o.quotas[userID]; !known {
			o.quotas[userID] = defaultQuota(userID)
		}
	}

	if o.isActiveLocked(accountID) {
		acc.LastActivity = o.now()
		return Decision{Allowed: true, Reason: "Already active"}
	}
	decision, _ := o.decideLocked(accountID)
	if !decision.Allowed {
		o.log.Debug().Int64("account", accountID).Str("reason", decision.Reason).Msg("activity: аккаунт не допущен к публикации")
		return decision
	}
	o.activateLocked(accountID)
	o.publishGaugesLocked()
	return decision
}

// DeactivateAccount выводит аккаунт из работы на cooldown (0 означает 30 минут)
// и пробует активировать следующий аккаунт из очереди.
func (o *Optimizer) DeactivateAccount(accountID int64, cooldown time.Duration) {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.deactivateLocked(accountID, cooldown) {
		o.promoteLocked(1)
	}
	o.publishGaugesLocked()
}

// Touch отмечает активность аккаунта. Возвращает false, если аккаунт не активен.
func (o *Optimizer) Touch(accountID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.isActiveLocked(accountID) {
		return false
	}
	acc := o.accounts[accountID]
	acc.LastActivity = o.now()
	acc.TotalRequestsToday++
	return true
}

// IsActive сообщает, активен ли аккаунт.
func (o *Optimizer) IsActive(accountID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.isActiveLocked(accountID)
}

// ActiveCount возвращает число активных аккаунтов пользователя.
func (o *Optimizer) ActiveCount(userID int64) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	count := 0
	for id := range o.active {
		if o.accounts[id].UserID == userID {
			count++
		}
	}
	return count
}

// OptimizeAllActivities снимает истёкшие кулдауны, деактивирует простаивающие аккаунты
// и активирует ожидающие. Возвращает число деактиваций.
func (o *Optimizer) OptimizeAllActivities() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()
	for _, acc := range o.accounts {
		if !acc.CooldownUntil.IsZero() && !now.Before(acc.CooldownUntil) {
			acc.CooldownUntil = time.Time{}
		}
	}

	rotated := 0
	for _, id := range o.activeIDsLocked() {
		if now.Sub(o.accounts[id].LastActivity) > IdleTimeout {
			o.deactivateLocked(id, IdleCooldown)
			rotated++
		}
	}
	o.promoteLocked(-1)
	o.optimizations += rotated
	o.publishGaugesLocked()

	if rotated > 0 {
		o.log.Info().Int("count", rotated).Msg("activity: выполнены оптимизации активности")
	}
	return rotated
}

// Stats: статистика оптимизатора.
type Stats struct {
	TotalAccounts           int     `json:"total_accounts"`
	ActiveAccounts          int     `json:"active_accounts"`
	WaitingAccounts         int     `json:"waiting_accounts"`
	UtilizationPercent      float64 `json:"utilization_percent"`
	TotalRotations          int     `json:"total_rotations"`
	TotalOptimizations      int     `json:"total_optimizations"`
	MemorySavedMB           int     `json:"memory_saved_mb"`
	EstimatedSavingsPercent float64 `json:"estimated_resource_savings_percent"`
}

// Stats возвращает текущую статистику.
func (o *Optimizer) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	total := len(o.accounts)
	denom := float64(max(total, 1))
	return Stats{
		TotalAccounts:           total,
		ActiveAccounts:          len(o.active),
		WaitingAccounts:         len(o.waiting),
		UtilizationPercent:      float64(len(o.active)) / denom * 100,
		TotalRotations:          o.rotations,
		TotalOptimizations:      o.optimizations,
		MemorySavedMB:           o.memorySavedMB,
		EstimatedSavingsPercent: min(maxSavingsPercent, float64(o.rotations)/denom*100),
	}
}

// Cooldowns возвращает действующие кулдауны для снимка.
func (o *Optimizer) Cooldowns() []domain.CooldownRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.now()
	out := make([]domain.CooldownRecord, 0)
	for id, acc := range o.accounts {
		if now.Before(acc.CooldownUntil) {
			out = append(out, domain.CooldownRecord{AccountID: id, Until: acc.CooldownUntil})
		}
	}
	for id, until := range o.restored {
		if now.Before(until) {
			out = append(out, domain.CooldownRecord{AccountID: id, Until: until})
		}
	}
	return out
}

// RestoreCooldowns восстанавливает кулдауны из снимка, пропуская истёкшие.
// Для незарегистрированных аккаунтов кулдаун применяется при регистрации.
func (o *Optimizer) RestoreCooldowns(records []domain.CooldownRecord) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.now()
	restored := 0
	for _, rec := range records {
		if !now.Before(rec.Until) {
			continue
		}
		if acc, ok := o.accounts[rec.AccountID]; ok {
			if rec.Until.After(acc.CooldownUntil) {
				acc.CooldownUntil = rec.Until
			}
		} else {
			o.restored[rec.AccountID] = rec.Until
		}
		restored++
	}
	return restored
}

// decideLocked проходит проверки по порядку: регистрация, кулдаун, рабочие часы, квота.
// Если квота исчерпана и аккаунт может вытеснить другой, возвращает id жертвы.
func (o *Optimizer) decideLocked(accountID int64) (Decision, int64) {
	acc, ok := o.accounts[accountID]
	if !ok {
		return Decision{Reason: "Account not registered"}, 0
	}
	now := o.now()

	if now.Before(acc.CooldownUntil) {
		wait := acc.CooldownUntil.Sub(now)
		return Decision{Reason: fmt.Sprintf("Cooldown for %ds", int(wait.Seconds())), WaitTime: wait.Truncate(time.Second)}, 0
	}

	if hours := acc.ActiveHours; len(hours) > 0 && !containsHour(hours, now.Hour()) {
		wait := time.Duration(hoursUntilActive(now.Hour(), hours)) * time.Hour
		return Decision{Reason: "Outside active hours", WaitTime: wait}, 0
	}

	quota := o.quotas[acc.UserID]
	if quota != nil && quota.CurrentActiveAccounts >= quota.MaxConcurrentAccounts {
		if acc.Priority > evictPriorityFloor {
			if victim, found := o.lowerPriorityLocked(acc.UserID, acc.Priority); found {
				return Decision{Allowed: true, Reason: "Replaced low priority account"}, victim
			}
		}
		return Decision{Reason: "User quota exceeded", WaitTime: quotaRetry}, 0
	}
	return Decision{Allowed: true, Reason: "All checks passed"}, 0
}

func (o *Optimizer) activateLocked(accountID int64) bool {
	if o.isActiveLocked(accountID) {
		o.accounts[accountID].LastActivity = o.now()
		o.removeWaitingLocked(accountID)
		return true
	}

	decision, victim := o.decideLocked(accountID)
	if !decision.Allowed {
		if _, registered := o.accounts[accountID]; registered && !o.isWaitingLocked(accountID) {
			o.waiting = append(o.waiting, accountID)
		}
		o.log.Debug().Int64("account", accountID).Str("reason", decision.Reason).Msg("activity: аккаунт в очереди ожидания")
		return false
	}
	if victim != 0 {
		o.log.Info().
			Int64("evicted", victim).
			Int64("account", accountID).
			Msg("activity: низкоприоритетный аккаунт заменён высокоприоритетным")
		// освободившийся слот достаётся запросившему, очередь не разбирается
		o.deactivateLocked(victim, EvictionCooldown)
	}

	acc := o.accounts[accountID]
	o.active[accountID] = struct{}{}
	acc.LastActivity = o.now()
	o.quotas[acc.UserID].CurrentActiveAccounts++
	o.removeWaitingLocked(accountID)
	o.log.Info().Int64("account", accountID).Int("active", len(o.active)).Msg("activity: аккаунт активирован")
	return true
}

func (o *Optimizer) deactivateLocked(accountID int64, cooldown time.Duration) bool {
	if !o.isActiveLocked(accountID) {
		return false
	}
	acc := o.accounts[accountID]
	o.releaseSlotLocked(acc)
	acc.CooldownUntil = o.now().Add(cooldown)
	o.rotations++
	o.memorySavedMB += memoryPerAccountMB
	metrics.OptimizerRotations.Inc()
	o.log.Info().Int64("account", accountID).Dur("cooldown", cooldown).Msg("activity: аккаунт деактивирован")
	return true
}

func (o *Optimizer) releaseSlotLocked(acc *AccountActivity) {
	delete(o.active, acc.AccountID)
	if quota := o.quotas[acc.UserID]; quota != nil {
		quota.CurrentActiveAccounts = max(0, quota.CurrentActiveAccounts-1)
	}
}

// promoteLocked активирует ожидающие аккаунты по убыванию приоритета с учётом премиум-множителя.
// limit < 0 снимает ограничение на число активаций.
func (o *Optimizer) promoteLocked(limit int) {
	if len(o.waiting) == 0 || limit == 0 {
		return
	}
	sort.SliceStable(o.waiting, func(i, j int) bool {
		return o.effectivePriorityLocked(o.waiting[i]) > o.effectivePriorityLocked(o.waiting[j])
	})
	candidates := append([]int64(nil), o.waiting...)

	activated := 0
	for _, id := range candidates {
		if o.activateLocked(id) {
			activated++
			if limit > 0 && activated >= limit {
				return
			}
		}
	}
}

func (o *Optimizer) effectivePriorityLocked(accountID int64) float64 {
	acc := o.accounts[accountID]
	boost := 1.0
	if quota := o.quotas[acc.UserID]; quota != nil && quota.PriorityBoost > 0 {
		boost = quota.PriorityBoost
	}
	return float64(acc.Priority) * boost
}

func (o *Optimizer) lowerPriorityLocked(userID int64, priority int) (int64, bool) {
	var (
		victim int64
		lowest = priority
	)
	for _, id := range o.activeIDsLocked() {
		acc := o.accounts[id]
		if acc.UserID == userID && acc.Priority < lowest {
			victim, lowest = id, acc.Priority
		}
	}
	return victim, lowest < priority
}

// activeIDsLocked возвращает активные аккаунты по возрастанию id для детерминированного обхода.
func (o *Optimizer) activeIDsLocked() []int64 {
	ids := make([]int64, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (o *Optimizer) isActiveLocked(accountID int64) bool {
	_, ok := o.active[accountID]
	return ok
}

func (o *Optimizer) isWaitingLocked(accountID int64) bool {
	for _, id := range o.waiting {
		if id == accountID {
			return true
		}
	}
	return false
}

func (o *Optimizer) removeWaitingLocked(accountID int64) {
	for i, id := range o.waiting {
		if id == accountID {
			o.waiting = append(o.waiting[:i], o.waiting[i+1:]...)
			return
		}
	}
}

func (o *Optimizer) publishGaugesLocked() {
	metrics.OptimizerActiveAccounts.Set(float64(len(o.active)))
	metrics.OptimizerWaitingAccounts.Set(float64(len(o.waiting)))
}

func containsHour(hours []int, hour int) bool {
	idx := sort.SearchInts(hours, hour)
	return idx < len(hours) && hours[idx] == hour
}

// hoursUntilActive считает часы до ближайшего разрешённого часа; hours отсортированы.
func hoursUntilActive(current int, hours []int) int {
	for _, h := range hours {
		if h > current {
			return h - current
		}
	}
	return 24 - current + hours[0]
}
