package taskqueue

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// BatchReport: итог пакета задач, отправляемый пользователю одним сообщением.
type BatchReport struct {
	ID        string
	ChatID    int64
	Total     int
	Completed int
	Failed    int
	Elapsed   time.Duration
}

// SuccessRate возвращает долю успешных задач в процентах.
func (r BatchReport) SuccessRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Completed) / float64(r.Total) * 100
}

// Text собирает текст итогового отчёта.
func (r BatchReport) Text() string {
	var b strings.Builder
	b.WriteString("📊 Итоговый отчет о публикации\n\n")
	fmt.Fprintf(&b, "📋 Всего задач: %d\n", r.Total)
	fmt.Fprintf(&b, "✅ Успешно: %d\n", r.Completed)
	fmt.Fprintf(&b, "❌ Ошибок: %d\n\n", r.Failed)
	if r.Completed > 0 {
		fmt.Fprintf(&b, "🎉 Успешно опубликовано в %d аккаунтах!\n", r.Completed)
	}
	if r.Failed > 0 {
		fmt.Fprintf(&b, "⚠️ Ошибки в %d аккаунтах\n", r.Failed)
	}
	fmt.Fprintf(&b, "📈 Успешность: %.1f%%\n\n", r.SuccessRate())
	fmt.Fprintf(&b, "⏱️ Время выполнения: %.1f секунд", r.Elapsed.Seconds())
	return b.String()
}

type batch struct {
	id        string
	chatID    int64
	tasks     map[int64]struct{}
	completed map[int64]struct{}
	failed    map[int64]struct{}
	createdAt time.Time
}

// batches связывает задачи с пакетом и считает результаты.
type batches struct {
	mu     sync.Mutex
	byID   map[string]*batch
	byTask map[int64]string
	now    func() time.Time
}

func newBatches(now func() time.Time) *batches {
	return &batches{
		byID:   make(map[string]*batch),
		byTask: make(map[int64]string),
		now:    now,
	}
}

// Register создаёт пакет. Повторная регистрация задачи переносит её в новый пакет.
func (b *batches) Register(taskIDs []int64, chatID int64) string {
	id := uuid.NewString()
	entry := &batch{
		id:        id,
		chatID:    chatID,
		tasks:     make(map[int64]struct{}, len(taskIDs)),
		completed: make(map[int64]struct{}),
		failed:    make(map[int64]struct{}),
		createdAt: b.now(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, taskID := range taskIDs {
		if prev, ok := b.byTask[taskID]; ok {
			if old := b.byID[prev]; old != nil {
				delete(old.tasks, taskID)
				if len(old.tasks) == 0 {
					delete(b.byID, prev)
				}
			}
		}
		entry.tasks[taskID] = struct{}{}
		b.byTask[taskID] = id
	}
	b.byID[id] = entry
	return id
}

// Record учитывает результат задачи. Отчёт возвращается ровно один раз,
// когда пакет завершён, после чего пакет забывается.
func (b *batches) Record(taskID int64, success bool) (BatchReport, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id, ok := b.byTask[taskID]
	if !ok {
		return BatchReport{}, false
	}
	entry := b.byID[id]
	if entry == nil {
		delete(b.byTask, taskID)
		return BatchReport{}, false
	}
	if _, done := entry.completed[taskID]; done {
		return BatchReport{}, false
	}
	if _, done := entry.failed[taskID]; done {
		return BatchReport{}, false
	}
	if success {
		entry.completed[taskID] = struct{}{}
	} else {
		entry.failed[taskID] = struct{}{}
	}

	finished := len(entry.completed) + len(entry.failed)
	if finished < len(entry.tasks) {
		return BatchReport{}, false
	}

	for t := range entry.tasks {
		if b.byTask[t] == id {
			delete(b.byTask, t)
		}
	}
	delete(b.byID, id)

	return BatchReport{
		ID:        id,
		ChatID:    entry.chatID,
		Total:     len(entry.tasks),
		Completed: len(entry.completed),
		Failed:    len(entry.failed),
		Elapsed:   b.now().Sub(entry.createdAt),
	}, true
}

func (b *batches) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byID)
}
