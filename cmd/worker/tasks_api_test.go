package main

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"ig-automation/internal/domain"
	"ig-automation/internal/usecase/taskqueue"
)

type memTasks struct {
	mu    sync.Mutex
	tasks map[int64]domain.PublishTask
}

func (m *memTasks) GetPublishTask(_ context.Context, id int64) (domain.PublishTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return domain.PublishTask{}, domain.ErrNotFound
	}
	return task, nil
}

func (m *memTasks) UpdatePublishTaskStatus(_ context.Context, id int64, status domain.TaskStatus, result domain.TaskResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task := m.tasks[id]
	task.Status = status
	task.ErrorMessage = result.ErrorMessage
	m.tasks[id] = task
	return nil
}

func (m *memTasks) get(id int64) domain.PublishTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks[id]
}

type okAccounts struct{}

func (okAccounts) ValidateBeforeUse(context.Context, int64) (bool, error) { return true, nil }

type stubPublisher struct{}

func (stubPublisher) PublishPhoto(context.Context, int64, string, string) (string, error) {
	return "media", nil
}

func (stubPublisher) PublishCarousel(context.Context, int64, []string, string) (string, error) {
	return "media", nil
}

func (stubPublisher) PublishStory(context.Context, int64, []string, string, domain.StoryOptions) (string, error) {
	return "media", nil
}

func (stubPublisher) PublishReel(context.Context, int64, string, string, domain.ReelOptions) (string, error) {
	return "media", nil
}

type switchLoad struct {
	mu       sync.Mutex
	critical bool
}

func (s *switchLoad) AdaptiveLimits(context.Context) (domain.AdaptiveLimits, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.AdaptiveLimits{MaxWorkers: 1, TimeoutMultiplier: 1, Critical: s.critical}, nil
}

func (s *switchLoad) relax() {
	s.mu.Lock()
	s.critical = false
	s.mu.Unlock()
}

type chatLog struct {
	mu       sync.Mutex
	messages []string
}

func (c *chatLog) Notify(_ context.Context, _ int64, text string) error {
	c.mu.Lock()
	c.messages = append(c.messages, text)
	c.mu.Unlock()
	return nil
}

func (c *chatLog) reports() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, msg := range c.messages {
		if strings.Contains(msg, "Итоговый отчет") {
			out = append(out, msg)
		}
	}
	return out
}

func TestAddTasksFullBufferFailsTaskAndReportsBatch(t *testing.T) {
	tasks := &memTasks{tasks: map[int64]domain.PublishTask{
		1: {ID: 1, AccountID: 11, AccountUsername: "one", UserID: 7, TaskType: domain.TaskPhoto},
		2: {ID: 2, AccountID: 12, AccountUsername: "two", UserID: 7, TaskType: domain.TaskPhoto},
	}}
	load := &switchLoad{critical: true}
	chat := &chatLog{}
	release := make(chan struct{})
	sleep := func(ctx context.Context, d time.Duration) error {
		if d != 30*time.Second {
			return nil
		}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	queue := taskqueue.New(taskqueue.Config{MaxWorkers: 1, BufferSize: 1, PollInterval: 10 * time.Millisecond},
		tasks, okAccounts{}, stubPublisher{}, nil, chat, load, zerolog.Nop(),
		taskqueue.WithSleep(sleep),
		taskqueue.WithRand(func() float64 { return 0 }),
	)
	ctx := context.Background()
	queue.Start(ctx)
	defer queue.Stop()

	h := newAPIHarness("", true)
	r := chi.NewRouter()
	deps := apiDeps{queue: queue, load: fakeLoad{ok: true}, automation: fakeAutomation{}, stages: fakeStages{}, limits: h.limits, risk: fakeRisk{}, optimizer: h.optimizer}
	mountAPI(r, "", deps, zerolog.Nop())
	h.router = r

	rec := h.do(http.MethodPost, "/api/v1/tasks", `{"task_ids":[1,2],"chat_id":7}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("ожидали 202, получили %d: %s", rec.Code, rec.Body.String())
	}
	var resp addTasksResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("не удалось разобрать ответ: %v", err)
	}
	if resp.BatchID == "" || !slices.Equal(resp.Accepted, []int64{1}) || !slices.Equal(resp.Rejected, []int64{2}) {
		t.Fatalf("неверный ответ: %+v", resp)
	}
	if got := tasks.get(2); got.Status != domain.TaskFailed || got.ErrorMessage != "Очередь задач переполнена" {
		t.Fatalf("отклонённая задача не должна оставаться в PROCESSING: %+v", got)
	}

	load.relax()
	close(release)

	deadline := time.Now().Add(5 * time.Second)
	for len(chat.reports()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	reports := chat.reports()
	if len(reports) != 1 || !strings.Contains(reports[0], "Ошибок: 1") {
		t.Fatalf("ожидали один итоговый отчёт с одной ошибкой, получили %q", reports)
	}
}
