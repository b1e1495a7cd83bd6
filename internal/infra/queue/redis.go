package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ig-automation/internal/domain"
	"ig-automation/internal/infra/metrics"
)

// RedisTaskQueue реализует очередь приёма на Redis lists. Полученное сообщение
// переносится в список processing и удаляется оттуда при подтверждении.
type RedisTaskQueue struct {
	client     *redis.Client
	key        string
	processing string
}

var _ domain.TaskIntake = (*RedisTaskQueue)(nil)

// NewRedisTaskQueue создаёт очередь по указанному ключу.
func NewRedisTaskQueue(client *redis.Client, key string) *RedisTaskQueue {
	return &RedisTaskQueue{client: client, key: key, processing: key + ":processing"}
}

// Enqueue публикует задание в очередь.
func (q *RedisTaskQueue) Enqueue(ctx context.Context, job domain.PublishJob) error {
	payload, err := encodeJob(job)
	if err != nil {
		return err
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задание из очереди.
func (q *RedisTaskQueue) Receive(ctx context.Context) (domain.PublishJob, domain.AckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.PublishJob{}, nil, err
		}

		payload, err := q.client.BLMove(ctx, q.key, q.processing, "RIGHT", "LEFT", time.Second).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.PublishJob{}, nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.PublishJob{}, nil, err
		}

		ack := q.ackFunc(payload)
		job, err := decodeJob([]byte(payload))
		if err != nil {
			_ = ack(true)
			return domain.PublishJob{}, nil, err
		}
		return job, ack, nil
	}
}

func (q *RedisTaskQueue) ackFunc(payload string) domain.AckFunc {
	return func(success bool) error {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		start := time.Now()
		_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.processing, 1, payload)
			if !success {
				pipe.RPush(ctx, q.key, payload)
			}
			return nil
		})
		metrics.ObserveNetworkRequest("redis", "ack", q.key, start, err)
		if err != nil {
			return fmt.Errorf("ack job: %w", err)
		}
		return nil
	}
}

// Recover возвращает в очередь задания, зависшие в processing после падения воркера.
func (q *RedisTaskQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, q.processing, q.key, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("recover jobs: %w", err)
		}
		moved++
	}
}

func encodeJob(job domain.PublishJob) ([]byte, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	return payload, nil
}

func decodeJob(payload []byte) (domain.PublishJob, error) {
	var job domain.PublishJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return domain.PublishJob{}, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}
