package domain

import "context"

// TaskIntake описывает очередь приёма задач публикации.
type TaskIntake interface {
	Enqueue(ctx context.Context, job PublishJob) error
	Receive(ctx context.Context) (PublishJob, AckFunc, error)
}

// AckFunc подтверждает обработку сообщения или возвращает его в очередь.
type AckFunc func(success bool) error
