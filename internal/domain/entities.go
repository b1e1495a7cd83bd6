package domain

import (
	"errors"
	"time"
)

// ErrNotFound возвращается репозиториями, если запись отсутствует.
var ErrNotFound = errors.New("запись не найдена")

// InstagramAccount описывает зарегистрированный Instagram-аккаунт.
type InstagramAccount struct {
	ID         int64
	UserID     int64
	Username   string
	CreatedAt  time.Time
	IsActive   bool
	LastWarmup *time.Time
}

// AgeDays возвращает возраст аккаунта в полных днях.
func (a InstagramAccount) AgeDays(now time.Time) int {
	if a.CreatedAt.IsZero() || now.Before(a.CreatedAt) {
		return 0
	}
	return int(now.Sub(a.CreatedAt) / (24 * time.Hour))
}

// AccountUpdate содержит изменяемые поля аккаунта. Nil означает «не менять».
type AccountUpdate struct {
	LastWarmup *time.Time
	IsActive   *bool
}

// ActionType задаёт тип действия в Instagram.
type ActionType string

const (
	ActionLike          ActionType = "like"
	ActionFollow        ActionType = "follow"
	ActionUnfollow      ActionType = "unfollow"
	ActionComment       ActionType = "comment"
	ActionPost          ActionType = "post"
	ActionStory         ActionType = "story"
	ActionReel          ActionType = "reel"
	ActionViewStory     ActionType = "view_story"
	ActionViewFeed      ActionType = "view_feed"
	ActionDirectMessage ActionType = "direct_message"
)

// AllActionTypes возвращает все типы действий в порядке объявления.
func AllActionTypes() []ActionType {
	return []ActionType{
		ActionLike,
		ActionFollow,
		ActionUnfollow,
		ActionComment,
		ActionPost,
		ActionStory,
		ActionReel,
		ActionViewStory,
		ActionViewFeed,
		ActionDirectMessage,
	}
}

// BlockRecord описывает временную блокировку действия.
type BlockRecord struct {
	AccountID int64      `json:"account_id"`
	Action    ActionType `json:"action"`
	Until     time.Time  `json:"until"`
}

// CooldownRecord описывает кулдаун аккаунта в оптимизаторе активности.
type CooldownRecord struct {
	AccountID int64     `json:"account_id"`
	Until     time.Time `json:"until"`
}

// ThrottleSnapshot хранит состояние ограничителей между перезапусками.
type ThrottleSnapshot struct {
	Blocks    []BlockRecord    `json:"blocks"`
	Cooldowns []CooldownRecord `json:"cooldowns"`
	SavedAt   time.Time        `json:"saved_at"`
}
