package main

import (
	"context"
	"errors"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"ig-automation/internal/adapters/notifier"
	"ig-automation/internal/adapters/publisher"
	"ig-automation/internal/adapters/repo"
	"ig-automation/internal/adapters/snapshot"
	"ig-automation/internal/adapters/sysload"
	"ig-automation/internal/domain"
	"ig-automation/internal/infra/cache"
	"ig-automation/internal/infra/config"
	"ig-automation/internal/infra/db"
	apphttp "ig-automation/internal/infra/http"
	applog "ig-automation/internal/infra/log"
	"ig-automation/internal/infra/metrics"
	"ig-automation/internal/infra/queue"
	"ig-automation/internal/usecase/activity"
	"ig-automation/internal/usecase/automation"
	"ig-automation/internal/usecase/health"
	"ig-automation/internal/usecase/lifecycle"
	"ig-automation/internal/usecase/ratelimit"
	"ig-automation/internal/usecase/risk"
	"ig-automation/internal/usecase/taskqueue"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	pool, err := db.Connect(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	if cfg.RedisAddr == "" {
		logger.Fatal().Msg("worker: не указан адрес Redis (REDIS_ADDR)")
	}
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	redisCache := cache.NewRedis(redisClient, "ig:")

	intake, closeIntake := mustIntake(ctx, cfg, redisClient, logger)
	defer closeIntake()

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("worker: не указан токен Telegram (TG_BOT_TOKEN)")
	}
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось создать бота")
	}
	tgNotifier := notifier.NewTelegram(botAPI, logger)

	igClient, err := publisher.New(cfg.Instagram.BaseURL,
		publisher.WithToken(cfg.Instagram.Token),
		publisher.WithTimeout(cfg.Instagram.Timeout),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось создать клиент публикации")
	}

	limiter := ratelimit.New(repoAdapter, logger)
	healthMonitor := health.NewMonitor(repoAdapter, logger, time.Now)
	riskMonitor := risk.NewMonitor(repoAdapter, risk.UsageSignals{Usage: limiter, Fallback: risk.RandomSignals{}}, logger, time.Now)
	stages := lifecycle.NewManager(repoAdapter, logger, time.Now)
	optimizer := activity.New(logger)
	automationService := automation.NewService(repoAdapter, healthMonitor, riskMonitor, limiter, igClient, logger)

	snapshots := snapshot.NewStore(redisCache, logger)
	if err := snapshots.Restore(limiter, optimizer); err != nil {
		logger.Warn().Err(err).Msg("worker: не удалось восстановить снимок ограничений")
	}

	var load domain.LoadSignal
	var loadMonitor *sysload.Monitor
	if sampler, err := sysload.NewProcSampler(); err != nil {
		logger.Warn().Err(err).Msg("worker: мониторинг нагрузки недоступен, используются резервные лимиты")
	} else {
		loadMonitor = sysload.New(sampler, cfg.Load.Profile, logger, sysload.WithCacheTTL(cfg.Load.CacheTTL))
		load = loadMonitor
	}

	tasks := taskqueue.New(taskqueue.Config{
		MaxWorkers:        cfg.TaskQueue.MaxWorkers,
		BufferSize:        cfg.TaskQueue.BufferSize,
		LoadCheckInterval: cfg.TaskQueue.LoadCheckInterval,
		OverloadPause:     cfg.TaskQueue.OverloadPause,
		StopTimeout:       cfg.TaskQueue.StopTimeout,
		PublishTimeout:    cfg.TaskQueue.PublishTimeout,
	}, repoAdapter, igClient, igClient, automationService, tgNotifier, load, logger, taskqueue.WithActivity(optimizer))
	tasks.Start(ctx)

	server := apphttp.NewServer(":"+strconv.Itoa(cfg.Port), logger)
	mountAPI(server.Router, cfg.APIToken, apiDeps{
		queue:      tasks,
		load:       newLoadStatus(loadMonitor),
		automation: automationService,
		stages:     stages,
		limits:     limiter,
		risk:       riskMonitor,
		optimizer:  optimizer,
	}, logger)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		tasks.Consume(groupCtx, intake)
		return nil
	})
	group.Go(server.Start)
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	group.Go(func() error {
		runEvery(groupCtx, cfg.Automation.OptimizeInterval, func() {
			if rotated := optimizer.OptimizeAllActivities(); rotated > 0 {
				logger.Info().Int("rotated", rotated).Msg("worker: оптимизация активности")
			}
			if err := snapshots.Save(limiter, optimizer); err != nil {
				logger.Warn().Err(err).Msg("worker: не удалось сохранить снимок ограничений")
			}
		})
		return nil
	})
	group.Go(func() error {
		runEvery(groupCtx, cfg.Automation.ManageInterval, func() {
			err := redisCache.Once("automation:manage", cfg.Automation.ManageLockTTL, func() error {
				report, err := automationService.AutoManageAccounts(groupCtx)
				if err != nil {
					return err
				}
				logger.Info().Interface("report", report).Msg("worker: автоуправление аккаунтами")
				return nil
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("worker: ошибка автоуправления")
			}
		})
		return nil
	})

	logger.Info().Int("port", cfg.Port).Str("intake", cfg.IntakeKind).Msg("worker: запущен")
	if err := group.Wait(); err != nil {
		logger.Error().Err(err).Msg("worker: остановлен с ошибкой")
	}

	tasks.Stop()
	if err := snapshots.Save(limiter, optimizer); err != nil {
		logger.Warn().Err(err).Msg("worker: не удалось сохранить снимок ограничений")
	}
	logger.Info().Msg("worker: остановлен")
}

// mustIntake выбирает очередь приёма задач по INTAKE_KIND.
func mustIntake(ctx context.Context, cfg config.AppConfig, client *redis.Client, logger zerolog.Logger) (domain.TaskIntake, func()) {
	switch cfg.IntakeKind {
	case "rabbitmq":
		if cfg.RabbitURL == "" {
			logger.Fatal().Msg("worker: не указан адрес RabbitMQ (RABBITMQ_URL)")
		}
		rabbit, err := queue.NewRabbitTaskQueue(cfg.RabbitURL, cfg.Queues.Tasks)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: не удалось инициализировать очередь RabbitMQ")
		}
		return rabbit, func() { _ = rabbit.Close() }
	case "redis", "":
		intake := queue.NewRedisTaskQueue(client, cfg.Queues.Tasks)
		if recovered, err := intake.Recover(ctx); err != nil {
			logger.Warn().Err(err).Msg("worker: не удалось вернуть незавершённые задачи")
		} else if recovered > 0 {
			logger.Info().Int("count", recovered).Msg("worker: незавершённые задачи возвращены в очередь")
		}
		return intake, func() {}
	default:
		logger.Fatal().Str("kind", cfg.IntakeKind).Msg("worker: неизвестный тип очереди (INTAKE_KIND)")
		return nil, nil
	}
}

func runEvery(ctx context.Context, interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
