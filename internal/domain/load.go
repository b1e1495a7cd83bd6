package domain

import (
	"context"
	"time"
)

// AdaptiveLimits: рекомендации системы мониторинга нагрузки.
type AdaptiveLimits struct {
	MaxWorkers          int
	BatchSize           int
	DelayBetweenBatches time.Duration
	TimeoutMultiplier   float64
	Description         string
	// Critical выставляется для уровней, при которых новые задачи запускать нельзя.
	Critical bool
}

// LoadSignal отдаёт текущие адаптивные лимиты.
type LoadSignal interface {
	AdaptiveLimits(ctx context.Context) (AdaptiveLimits, error)
}
