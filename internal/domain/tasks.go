package domain

import (
	"encoding/json"
	"time"
)

// TaskStatus описывает состояние задачи публикации.
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskProcessing TaskStatus = "PROCESSING"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskFailed     TaskStatus = "FAILED"
)

// Terminal сообщает, является ли статус конечным.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// TaskType описывает тип публикуемого контента.
type TaskType string

const (
	TaskPhoto    TaskType = "photo"
	TaskCarousel TaskType = "carousel"
	TaskStory    TaskType = "story"
	TaskReel     TaskType = "reel"
	TaskVideo    TaskType = "video"
	TaskMosaic   TaskType = "mosaic"
)

// PublishTask содержит данные задачи публикации из БД.
type PublishTask struct {
	ID              int64
	AccountID       int64
	AccountUsername string
	UserID          int64
	TaskType        TaskType
	MediaPath       string
	Caption         string
	Hashtags        string
	Options         json.RawMessage
	Status          TaskStatus
	MediaID         string
	ErrorMessage    string
	UpdatedAt       time.Time
}

// TaskResult дополняет обновление статуса задачи.
type TaskResult struct {
	ErrorMessage string
	MediaID      string
}

// AccountTags задаёт отметки пользователей для конкретного аккаунта.
type AccountTags struct {
	AccountID int64    `json:"account_id"`
	Tags      []string `json:"tags"`
}

// TaskOptions: дополнительные параметры публикации из поля options.
type TaskOptions struct {
	Hashtags            []string      `json:"hashtags,omitempty"`
	Usertags            []string      `json:"usertags,omitempty"`
	DistributedUsertags []AccountTags `json:"distributed_usertags,omitempty"`
	Location            string        `json:"location,omitempty"`
	CoverTime           float64       `json:"cover_time,omitempty"`
	ThumbnailPath       string        `json:"thumbnail_path,omitempty"`
	HideFromFeed        bool          `json:"hide_from_feed,omitempty"`
	MusicTrack          string        `json:"music_track,omitempty"`
	Mentions            []string      `json:"mentions,omitempty"`
	Link                string        `json:"link,omitempty"`
	StoryLink           string        `json:"story_link,omitempty"`
	StoryText           string        `json:"story_text,omitempty"`
	StoryTextColor      string        `json:"story_text_color,omitempty"`
	MediaPaths          []string      `json:"media_paths,omitempty"`
	UniquifyContent     bool          `json:"uniquify_content,omitempty"`
}

// StoryOptions: параметры публикации истории.
type StoryOptions struct {
	Mentions  []string `json:"mentions,omitempty"`
	Link      string   `json:"link,omitempty"`
	Text      string   `json:"text,omitempty"`
	TextColor string   `json:"text_color,omitempty"`
}

// ReelOptions: параметры публикации Reels.
type ReelOptions struct {
	Hashtags      []string `json:"hashtags,omitempty"`
	Usertags      []string `json:"usertags,omitempty"`
	Location      string   `json:"location,omitempty"`
	ThumbnailPath string   `json:"thumbnail_path,omitempty"`
	CoverTime     float64  `json:"cover_time,omitempty"`
}

// PublishJob: сообщение очереди приёма задач от Telegram-обработчиков.
type PublishJob struct {
	ID           string    `json:"job_id,omitempty"`
	TaskIDs      []int64   `json:"task_ids"`
	ChatID       int64     `json:"chat_id,omitempty"`
	DelaySeconds int       `json:"delay_seconds,omitempty"`
	RequestedAt  time.Time `json:"requested_at"`
}
