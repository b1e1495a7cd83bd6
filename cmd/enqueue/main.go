package main

import (
	"context"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"ig-automation/internal/domain"
	"ig-automation/internal/infra/config"
	"ig-automation/internal/infra/queue"
)

func main() {
	var (
		tasksFlag string
		chatID    int64
		delay     time.Duration
	)
	flag.StringVar(&tasksFlag, "tasks", "", "Comma separated publish task IDs")
	flag.Int64Var(&chatID, "chat", 0, "Telegram chat for notifications")
	flag.DurationVar(&delay, "delay", 0, "Delay before tasks enter the queue")
	flag.Parse()

	taskIDs, err := parseTaskIDs(tasksFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("enqueue: некорректный список задач (-tasks)")
	}

	cfg := config.Load()
	job := domain.PublishJob{
		ID:           uuid.NewString(),
		TaskIDs:      taskIDs,
		ChatID:       chatID,
		DelaySeconds: int(delay / time.Second),
		RequestedAt:  time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	intake, closeIntake, err := openIntake(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("enqueue: не удалось подключиться к очереди")
	}
	defer closeIntake()

	if err := intake.Enqueue(ctx, job); err != nil {
		log.Fatal().Err(err).Msg("enqueue: не удалось отправить задание")
	}
	fmt.Printf("Задание %s отправлено: %d задач\n", job.ID, len(job.TaskIDs))
}

func openIntake(cfg config.AppConfig) (domain.TaskIntake, func(), error) {
	switch cfg.IntakeKind {
	case "rabbitmq":
		rabbit, err := queue.NewRabbitTaskQueue(cfg.RabbitURL, cfg.Queues.Tasks)
		if err != nil {
			return nil, nil, err
		}
		return rabbit, func() { _ = rabbit.Close() }, nil
	case "redis", "":
		if cfg.RedisAddr == "" {
			return nil, nil, fmt.Errorf("REDIS_ADDR не задан")
		}
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return queue.NewRedisTaskQueue(client, cfg.Queues.Tasks), func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("неизвестный тип очереди %q", cfg.IntakeKind)
	}
}

// parseTaskIDs разбирает "1, 2,3" в список положительных ID без повторов.
func parseTaskIDs(raw string) ([]int64, error) {
	var ids []int64
	seen := make(map[int64]struct{})
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("некорректный id %q", part)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("список задач пуст")
	}
	return ids, nil
}
