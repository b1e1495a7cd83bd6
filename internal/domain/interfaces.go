package domain

import (
	"context"
	"time"
)

// AccountRepo предоставляет доступ к Instagram-аккаунтам.
type AccountRepo interface {
	GetInstagramAccount(ctx context.Context, id int64) (InstagramAccount, error)
	ListInstagramAccounts(ctx context.Context) ([]InstagramAccount, error)
	UpdateInstagramAccount(ctx context.Context, id int64, update AccountUpdate) error
}

// TaskRepo предоставляет доступ к задачам публикации.
type TaskRepo interface {
	GetPublishTask(ctx context.Context, id int64) (PublishTask, error)
	UpdatePublishTaskStatus(ctx context.Context, id int64, status TaskStatus, result TaskResult) error
}

// Publisher публикует контент через клиент Instagram.
type Publisher interface {
	PublishPhoto(ctx context.Context, accountID int64, path, caption string) (string, error)
	PublishCarousel(ctx context.Context, accountID int64, paths []string, caption string) (string, error)
	PublishStory(ctx context.Context, accountID int64, paths []string, caption string, opts StoryOptions) (string, error)
	PublishReel(ctx context.Context, accountID int64, path, caption string, opts ReelOptions) (string, error)
}

// Warmer запускает прогрев аккаунта.
type Warmer interface {
	Warm(ctx context.Context, accountID int64, duration time.Duration) (string, error)
}

// AccountValidator проверяет готовность аккаунта к использованию.
type AccountValidator interface {
	ValidateBeforeUse(ctx context.Context, accountID int64) (bool, error)
}

// Notifier отправляет сообщения пользователю в Telegram.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}
