package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"ig-automation/internal/domain"
	"ig-automation/internal/infra/metrics"
)

// RabbitTaskQueue реализует очередь приёма через AMQP: durable очередь, ручное подтверждение.
type RabbitTaskQueue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
}

var _ domain.TaskIntake = (*RabbitTaskQueue)(nil)

// NewRabbitTaskQueue подключается к брокеру и объявляет очередь.
func NewRabbitTaskQueue(amqpURL, queue string) (*RabbitTaskQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &RabbitTaskQueue{conn: conn, ch: ch, queue: queue}, nil
}

// Enqueue публикует задание в очередь.
func (q *RabbitTaskQueue) Enqueue(ctx context.Context, job domain.PublishJob) error {
	payload, err := encodeJob(job)
	if err != nil {
		return err
	}
	start := time.Now()
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    job.RequestedAt,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

func (q *RabbitTaskQueue) consume() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries != nil {
		return q.deliveries, nil
	}
	deliveries, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}
	q.deliveries = deliveries
	return deliveries, nil
}

// Receive ждёт следующее задание.
func (q *RabbitTaskQueue) Receive(ctx context.Context) (domain.PublishJob, domain.AckFunc, error) {
	deliveries, err := q.consume()
	if err != nil {
		return domain.PublishJob{}, nil, err
	}
	select {
	case <-ctx.Done():
		return domain.PublishJob{}, nil, ctx.Err()
	case d, ok := <-deliveries:
		if !ok {
			return domain.PublishJob{}, nil, errors.New("rabbitmq: канал доставки закрыт")
		}
		job, err := decodeJob(d.Body)
		if err != nil {
			_ = d.Nack(false, false)
			return domain.PublishJob{}, nil, err
		}
		ack := func(success bool) error {
			if success {
				return d.Ack(false)
			}
			return d.Nack(false, true)
		}
		return job, ack, nil
	}
}

// Close закрывает канал и соединение.
func (q *RabbitTaskQueue) Close() error {
	if err := q.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		q.conn.Close()
		return err
	}
	return q.conn.Close()
}
