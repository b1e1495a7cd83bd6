package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TASK_MAX_WORKERS", "12")
	t.Setenv("IG_API_TIMEOUT", "90s")

	cfg := Load()
	if cfg.TaskQueue.MaxWorkers != 12 {
		t.Fatalf("ожидали 12 воркеров из окружения, получили %d", cfg.TaskQueue.MaxWorkers)
	}
	if cfg.Instagram.Timeout != 90*time.Second {
		t.Fatalf("ожидали таймаут 90с, получили %v", cfg.Instagram.Timeout)
	}
	if cfg.TaskQueue.BufferSize != 1000 || cfg.TaskQueue.LoadCheckInterval != 30*time.Second {
		t.Fatalf("не применились значения по умолчанию: %+v", cfg.TaskQueue)
	}
	if cfg.PGMaxConns != 5 {
		t.Fatalf("ожидали 5 соединений с БД по умолчанию, получили %d", cfg.PGMaxConns)
	}
	if cfg.Load.Profile != "server" || cfg.IntakeKind != "redis" || cfg.Queues.Tasks != "publish_jobs" {
		t.Fatalf("неверные значения по умолчанию: %+v", cfg)
	}
}
