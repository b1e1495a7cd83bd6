package sysload

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ig-automation/internal/domain"
)

// Profile задаёт веса показателей для типа железа.
type Profile struct {
	CPUWeight    float64
	MemoryWeight float64
	TempWeight   float64
	LoadWeight   float64
	TempCritical float64
}

// Profiles: известные профили железа.
var Profiles = map[string]Profile{
	"macbook": {CPUWeight: 0.4, MemoryWeight: 0.3, TempWeight: 0.2, LoadWeight: 0.1, TempCritical: 85},
	"server":  {CPUWeight: 0.3, MemoryWeight: 0.4, TempWeight: 0.1, LoadWeight: 0.2, TempCritical: 95},
	"vps":     {CPUWeight: 0.35, MemoryWeight: 0.35, TempWeight: 0.05, LoadWeight: 0.25, TempCritical: 90},
}

// SafetyLimits: предельные значения, после которых включается защитный режим.
type SafetyLimits struct {
	MaxCPUPercent    float64
	MaxMemoryPercent float64
	MaxLoadAverage   float64
	MaxTemperature   float64
	Cooldown         time.Duration
}

// DefaultSafetyLimits возвращает стандартные предельные значения.
func DefaultSafetyLimits() SafetyLimits {
	return SafetyLimits{
		MaxCPUPercent:    95,
		MaxMemoryPercent: 92,
		MaxLoadAverage:   25,
		MaxTemperature:   80,
		Cooldown:         30 * time.Second,
	}
}

const (
	fallbackPercent    = 50
	adaptationInterval = 30 * time.Second
	warningStress      = 0.85
	criticalStress     = 0.95
	adaptationStep     = 10
	recoveryStep       = 5
	maxReduction       = 80
	defaultCacheTTL    = 5 * time.Second
)

// Option настраивает монитор.
type Option func(*Monitor)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithSafetyLimits задаёт предельные значения.
func WithSafetyLimits(limits SafetyLimits) Option {
	return func(m *Monitor) { m.safety = limits }
}

// WithCacheTTL задаёт время жизни рассчитанных лимитов.
func WithCacheTTL(ttl time.Duration) Option {
	return func(m *Monitor) { m.cacheTTL = ttl }
}

// Monitor переводит нагрузку машины в адаптивные лимиты очереди.
type Monitor struct {
	sampler  Sampler
	profile  Profile
	name     string
	safety   SafetyLimits
	cacheTTL time.Duration
	log      zerolog.Logger
	now      func() time.Time

	mu             sync.Mutex
	cached         domain.AdaptiveLimits
	cachedAt       time.Time
	metrics        *Metrics
	level          Level
	lastEmergency  time.Time
	reduction      int
	lastAdaptation time.Time
}

// New создаёт монитор. Неизвестный профиль заменяется профилем server.
func New(sampler Sampler, profile string, logger zerolog.Logger, opts ...Option) *Monitor {
	log := logger.With().Str("component", "sysload").Logger()
	p, ok := Profiles[profile]
	if !ok {
		log.Warn().Str("profile", profile).Msg("sysload: неизвестный профиль железа, используем server")
		profile = "server"
		p = Profiles[profile]
	}
	m := &Monitor{
		sampler:  sampler,
		profile:  p,
		name:     profile,
		safety:   DefaultSafetyLimits(),
		cacheTTL: defaultCacheTTL,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LoadPercent сводит показатели в общий процент нагрузки с весами профиля.
func (m *Monitor) LoadPercent(metrics Metrics) int {
	cpu := math.Min(metrics.CPUPercent, 100)
	memory := math.Min(metrics.MemoryPercent, 100)
	var temp float64
	if metrics.Temperature > 0 && m.profile.TempCritical > 0 {
		temp = math.Min(metrics.Temperature/m.profile.TempCritical*100, 100)
	}
	load := math.Min(metrics.LoadAverage/4*100, 100)

	total := cpu*m.profile.CPUWeight +
		memory*m.profile.MemoryWeight +
		temp*m.profile.TempWeight +
		load*m.profile.LoadWeight
	return int(math.Max(0, math.Min(total, 100)))
}

// stress: нагрузка относительно предельных значений, от 0 до 1.
func (m *Monitor) stress(metrics Metrics) float64 {
	ratio := func(v, limit float64) float64 {
		if limit <= 0 {
			return 0
		}
		return math.Min(1, v/limit)
	}
	var temp float64
	if metrics.Temperature > 0 {
		temp = ratio(metrics.Temperature, m.safety.MaxTemperature)
	}
	total := ratio(metrics.CPUPercent, m.safety.MaxCPUPercent)*m.profile.CPUWeight +
		ratio(metrics.MemoryPercent, m.safety.MaxMemoryPercent)*m.profile.MemoryWeight +
		temp*m.profile.TempWeight +
		ratio(metrics.LoadAverage, m.safety.MaxLoadAverage)*m.profile.LoadWeight
	return math.Min(1, total)
}

// exceeded возвращает превышенные предельные значения.
func (m *Monitor) exceeded(metrics Metrics) []string {
	var out []string
	if metrics.CPUPercent > m.safety.MaxCPUPercent {
		out = append(out, fmt.Sprintf("CPU: %.1f%% > %.0f%%", metrics.CPUPercent, m.safety.MaxCPUPercent))
	}
	if metrics.MemoryPercent > m.safety.MaxMemoryPercent {
		out = append(out, fmt.Sprintf("RAM: %.1f%% > %.0f%%", metrics.MemoryPercent, m.safety.MaxMemoryPercent))
	}
	if metrics.LoadAverage > m.safety.MaxLoadAverage {
		out = append(out, fmt.Sprintf("Load: %.2f > %.1f", metrics.LoadAverage, m.safety.MaxLoadAverage))
	}
	if metrics.Temperature > 0 && metrics.Temperature > m.safety.MaxTemperature {
		out = append(out, fmt.Sprintf("Temp: %.1f°C > %.0f°C", metrics.Temperature, m.safety.MaxTemperature))
	}
	return out
}

// adaptLocked раз в adaptationInterval меняет процент адаптивного снижения по уровню стресса.
func (m *Monitor) adaptLocked(metrics Metrics, now time.Time) int {
	if !m.lastAdaptation.IsZero() && now.Sub(m.lastAdaptation) < adaptationInterval {
		return m.reduction
	}
	m.lastAdaptation = now

	stress := m.stress(metrics)
	switch {
	case stress >= criticalStress:
		m.reduction = min(maxReduction, m.reduction+2*adaptationStep)
		m.log.Warn().Float64("stress", stress).Int("reduction", m.reduction).Msg("sysload: критический стресс, усиливаем защиту")
	case stress >= warningStress:
		m.reduction = min(maxReduction, m.reduction+adaptationStep)
		m.log.Info().Float64("stress", stress).Int("reduction", m.reduction).Msg("sysload: повышенный стресс, усиливаем защиту")
	case m.reduction > 0:
		m.reduction = max(0, m.reduction-recoveryStep)
		m.log.Info().Float64("stress", stress).Int("reduction", m.reduction).Msg("sysload: нагрузка в норме, ослабляем защиту")
	}
	return m.reduction
}

// reduce применяет адаптивное снижение к лимитам уровня.
func reduce(limits domain.AdaptiveLimits, percent int) domain.AdaptiveLimits {
	if percent <= 0 {
		return limits
	}
	factor := float64(percent) / 100
	limits.MaxWorkers = max(1, int(float64(limits.MaxWorkers)*(1-factor*0.8)))
	limits.BatchSize = max(1, int(float64(limits.BatchSize)*(1-factor*0.6)))
	limits.DelayBetweenBatches = time.Duration(float64(limits.DelayBetweenBatches) * (1 + factor*2))
	limits.TimeoutMultiplier *= 1 + factor*1.5
	limits.Description = fmt.Sprintf("%s (адаптивно снижено на %d%%)", limits.Description, percent)
	return limits
}

// evaluateLocked выбирает уровень: защитный режим, охлаждение, затем уровень по проценту с адаптивным снижением.
func (m *Monitor) evaluateLocked(metrics Metrics, now time.Time) (Level, domain.AdaptiveLimits) {
	if exceeded := m.exceeded(metrics); len(exceeded) > 0 {
		m.lastEmergency = now
		m.log.Error().Str("limits", strings.Join(exceeded, ", ")).Msg("sysload: превышены предельные значения, включён защитный режим")
		return emergency, emergency.Limits
	}
	if m.inCooldownLocked(now) {
		return emergency, emergency.Limits
	}

	reduction := m.adaptLocked(metrics, now)
	lvl := LevelFor(m.LoadPercent(metrics))
	return lvl, reduce(lvl.Limits, reduction)
}

func (m *Monitor) inCooldownLocked(now time.Time) bool {
	return !m.lastEmergency.IsZero() && now.Sub(m.lastEmergency) < m.safety.Cooldown
}

// AdaptiveLimits возвращает лимиты для текущей нагрузки. Результат кешируется на cacheTTL.
func (m *Monitor) AdaptiveLimits(ctx context.Context) (domain.AdaptiveLimits, error) {
	now := m.now()
	m.mu.Lock()
	if !m.cachedAt.IsZero() && now.Sub(m.cachedAt) < m.cacheTTL {
		limits := m.cached
		m.mu.Unlock()
		return limits, nil
	}
	m.mu.Unlock()

	metrics, err := m.sampler.Sample(ctx)
	if err != nil {
		return domain.AdaptiveLimits{}, fmt.Errorf("sample system metrics: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	lvl, limits := m.evaluateLocked(metrics, now)
	m.cached = limits
	m.cachedAt = now
	m.metrics = &metrics
	m.level = lvl
	return limits, nil
}

// Status: состояние нагрузки для операторского API.
type Status struct {
	LoadPercent       int                   `json:"load_percentage"`
	Level             string                `json:"level"`
	Profile           string                `json:"hardware_profile"`
	Limits            domain.AdaptiveLimits `json:"limits"`
	Metrics           *Metrics              `json:"metrics,omitempty"`
	SafetyStatus      string                `json:"safety_status"`
	SafetyWarnings    []string              `json:"safety_warnings,omitempty"`
	Reduction         int                   `json:"adaptive_reduction"`
	CooldownRemaining float64               `json:"cooldown_remaining"`
}

// Status описывает последний замер AdaptiveLimits. Без замера показатели снимаются заново,
// но состояние монитора не меняется. При ошибке снятия нагрузка считается 50%.
func (m *Monitor) Status(ctx context.Context) Status {
	now := m.now()
	m.mu.Lock()
	if m.metrics != nil {
		defer m.mu.Unlock()
		return m.statusLocked(*m.metrics, m.level, m.cached, now)
	}
	m.mu.Unlock()

	metrics, err := m.sampler.Sample(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.log.Warn().Err(err).Msg("sysload: не удалось снять показатели")
		lvl := LevelFor(fallbackPercent)
		return Status{
			LoadPercent:  fallbackPercent,
			Level:        lvl.Name,
			Profile:      m.name,
			Limits:       lvl.Limits,
			SafetyStatus: "OK",
		}
	}
	lvl, limits := m.peekLocked(metrics, now)
	return m.statusLocked(metrics, lvl, limits, now)
}

// peekLocked: то же, что evaluateLocked, без записи защитного режима и адаптации.
func (m *Monitor) peekLocked(metrics Metrics, now time.Time) (Level, domain.AdaptiveLimits) {
	if len(m.exceeded(metrics)) > 0 || m.inCooldownLocked(now) {
		return emergency, emergency.Limits
	}
	lvl := LevelFor(m.LoadPercent(metrics))
	return lvl, reduce(lvl.Limits, m.reduction)
}

func (m *Monitor) statusLocked(metrics Metrics, lvl Level, limits domain.AdaptiveLimits, now time.Time) Status {
	st := Status{
		LoadPercent:    m.LoadPercent(metrics),
		Level:          lvl.Name,
		Profile:        m.name,
		Limits:         limits,
		Metrics:        &metrics,
		SafetyStatus:   "OK",
		SafetyWarnings: m.warnings(metrics),
		Reduction:      m.reduction,
	}
	if len(st.SafetyWarnings) > 0 {
		st.SafetyStatus = "WARNING"
	}
	switch {
	case lvl.Name == emergency.Name:
		st.SafetyStatus = "EMERGENCY"
		if !m.lastEmergency.IsZero() {
			st.CooldownRemaining = math.Max(0, (m.safety.Cooldown - now.Sub(m.lastEmergency)).Seconds())
		}
	case m.reduction > 0:
		st.SafetyStatus = "ADAPTIVE"
	}
	return st
}

func (m *Monitor) warnings(metrics Metrics) []string {
	var out []string
	if metrics.CPUPercent > m.safety.MaxCPUPercent*0.9 {
		out = append(out, "CPU приближается к лимиту")
	}
	if metrics.MemoryPercent > m.safety.MaxMemoryPercent*0.9 {
		out = append(out, "RAM приближается к лимиту")
	}
	if metrics.LoadAverage > m.safety.MaxLoadAverage*0.9 {
		out = append(out, "Load приближается к лимиту")
	}
	if metrics.Temperature > 0 && metrics.Temperature > m.safety.MaxTemperature*0.9 {
		out = append(out, "Температура приближается к лимиту")
	}
	return out
}
