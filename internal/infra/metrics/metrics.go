package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	TasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "publish_tasks_total",
		Help: "Завершённые задачи публикации по статусу",
	}, []string{"status", "task_type"})

	TaskDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "publish_task_duration_seconds",
		Help:    "Длительность выполнения задачи публикации",
		Buckets: []float64{1, 2.5, 5, 10, 15, 30, 45, 60, 90, 120, 180, 300, 600},
	}, []string{"task_type"})

	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "task_queue_depth",
		Help: "Количество задач, ожидающих в очереди",
	})

	QueueInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "task_queue_in_flight",
		Help: "Количество выполняющихся задач",
	})

	QueueWorkerLimit = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "task_queue_worker_limit",
		Help: "Текущий адаптивный лимит воркеров",
	})

	QueueOverloaded = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "task_queue_overloaded",
		Help: "1, если система в критической перегрузке",
	})

	BatchReportsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "task_batch_reports_total",
		Help: "Отправленные итоговые отчёты по пакетам задач",
	})

	RateLimitRefusals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rate_limit_refusals_total",
		Help: "Отказы rate limiter по типу действия и причине",
	}, []string{"action", "reason"})

	RateLimitBlocks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rate_limit_blocks_total",
		Help: "Временные блокировки действий",
	}, []string{"action"})

	OptimizerActiveAccounts = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "activity_active_accounts",
		Help: "Количество активных аккаунтов в оптимизаторе",
	})

	OptimizerWaitingAccounts = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "activity_waiting_accounts",
		Help: "Количество аккаунтов в очереди ожидания активации",
	})

	OptimizerRotations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "activity_rotations_total",
		Help: "Деактивации аккаунтов оптимизатором",
	})

	AutomationActions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "automation_actions_total",
		Help: "Автоматические действия над аккаунтами",
	}, []string{"action"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 30, 60, 120, 300},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		TasksTotal,
		TaskDuration,
		QueueDepth,
		QueueInFlight,
		QueueWorkerLimit,
		QueueOverloaded,
		BatchReportsTotal,
		RateLimitRefusals,
		RateLimitBlocks,
		OptimizerActiveAccounts,
		OptimizerWaitingAccounts,
		OptimizerRotations,
		AutomationActions,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveTask записывает итог задачи публикации.
func ObserveTask(status, taskType string, start time.Time) {
	if taskType == "" {
		taskType = "unknown"
	}
	TasksTotal.WithLabelValues(status, taskType).Inc()
	TaskDuration.WithLabelValues(taskType).Observe(time.Since(start).Seconds())
}
