package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ig-automation/internal/domain"
	"ig-automation/internal/infra/metrics"
	"ig-automation/internal/usecase/activity"
)

var (
	// ErrQueueFull возвращается, когда буфер очереди заполнен.
	ErrQueueFull = errors.New("taskqueue: очередь переполнена")
	// ErrStopped возвращается, когда очередь не запущена.
	ErrStopped = errors.New("taskqueue: очередь остановлена")
)

const (
	fallbackDescription   = "Базовые лимиты (ошибка получения данных)"
	overloadMessage       = "Критическая перегрузка системы"
	invalidAccountMessage = "Аккаунт невалиден или требует восстановления"
	publishFailedMessage  = "Не удалось опубликовать контент"
	queueFullMessage      = "Очередь задач переполнена"
	statusFailedMessage   = "Не удалось обновить статус задачи"
	inactiveMessage       = "Аккаунт не может быть активирован"
)

// Guard выполняет действие с учётом лимитов и риска аккаунта.
type Guard interface {
	PerformSafeAction(ctx context.Context, accountID int64, action domain.ActionType, fn func(ctx context.Context) (string, error)) (string, error)
}

// Activity допускает аккаунт к работе с учётом квот пользователя.
type Activity interface {
	Admit(accountID, userID int64) activity.Decision
	Touch(accountID int64) bool
}

// Config задаёт параметры очереди. Нулевые значения заменяются значениями по умолчанию.
type Config struct {
	MaxWorkers        int
	BufferSize        int
	LoadCheckInterval time.Duration
	OverloadPause     time.Duration
	PollInterval      time.Duration
	StopTimeout       time.Duration
	PublishTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 50
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.LoadCheckInterval <= 0 {
		c.LoadCheckInterval = 30 * time.Second
	}
	if c.OverloadPause <= 0 {
		c.OverloadPause = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 5 * time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Minute
	}
	return c
}

// Option настраивает очередь.
type Option func(*Queue)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithSleep подменяет ожидание (паузы между публикациями и при перегрузке).
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(q *Queue) { q.sleep = sleep }
}

// WithRand подменяет генератор случайной доли задержки в диапазоне [0, 1).
func WithRand(fn func() float64) Option {
	return func(q *Queue) { q.rand = fn }
}

// WithActivity включает допуск аккаунтов через оптимизатор активности.
func WithActivity(a Activity) Option {
	return func(q *Queue) { q.activity = a }
}

type job struct {
	taskID int64
	chatID int64
}

// Queue выполняет задачи публикации с адаптивным числом параллельных воркеров.
type Queue struct {
	cfg       Config
	tasks     domain.TaskRepo
	validator domain.AccountValidator
	publisher domain.Publisher
	guard     Guard
	notifier  domain.Notifier
	load      domain.LoadSignal
	activity  Activity
	log       zerolog.Logger

	items   chan job
	slots   *slots
	locks   *accountLocks
	batches *batches

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64

	inFlight atomic.Int64

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	held     *job
	limits   domain.AdaptiveLimits
	limitsAt time.Time
}

// New создаёт очередь. guard, notifier и load могут быть nil.
func New(cfg Config, tasks domain.TaskRepo, validator domain.AccountValidator, publisher domain.Publisher, guard Guard, notifier domain.Notifier, load domain.LoadSignal, logger zerolog.Logger, opts ...Option) *Queue {
	cfg = cfg.withDefaults()
	q := &Queue{
		cfg:       cfg,
		tasks:     tasks,
		validator: validator,
		publisher: publisher,
		guard:     guard,
		notifier:  notifier,
		load:      load,
		log:       logger.With().Str("component", "taskqueue").Logger(),
		items:     make(chan job, cfg.BufferSize),
		slots:     newSlots(cfg.MaxWorkers),
		locks:     newAccountLocks(),
		now:       time.Now,
		sleep:     sleepContext,
		rand:      rand.Float64,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.batches = newBatches(q.now)
	return q
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Start запускает супервизор и пул воркеров. Повторный вызов на работающей очереди ничего не делает.
// Выполняющиеся задачи не отменяются при отмене ctx.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		q.log.Warn().Msg("taskqueue: очередь уже запущена")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	taskCtx := context.WithoutCancel(ctx)
	dispatch := make(chan job)
	done := make(chan struct{})

	q.running = true
	q.cancel = cancel
	q.done = done

	for i := 0; i < q.cfg.MaxWorkers; i++ {
		go q.worker(taskCtx, dispatch)
	}
	go func() {
		defer close(done)
		defer close(dispatch)
		q.supervise(runCtx, dispatch)
	}()

	q.log.Info().Int("max_workers", q.cfg.MaxWorkers).Int("buffer", q.cfg.BufferSize).Msg("taskqueue: очередь запущена")
}

// Stop останавливает выдачу задач и ждёт супервизор не дольше StopTimeout.
// Задачи в буфере сохраняются до следующего Start.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	cancel, done := q.cancel, q.done
	q.mu.Unlock()

	cancel()
	timer := time.NewTimer(q.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-done:
		q.log.Info().Msg("taskqueue: очередь остановлена")
	case <-timer.C:
		q.log.Warn().Dur("timeout", q.cfg.StopTimeout).Msg("taskqueue: супервизор не завершился вовремя")
	}
}

// Running сообщает, запущена ли очередь.
func (q *Queue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// AddTask проверяет задачу, переводит её в PROCESSING и ставит в очередь. При delay > 0 постановка откладывается.
// Любая ошибка, кроме ErrStopped, уже учтена: задача помечена FAILED, а её пакет получил неуспех.
func (q *Queue) AddTask(ctx context.Context, taskID, chatID int64, delay time.Duration) error {
	if !q.Running() {
		return ErrStopped
	}
	j := job{taskID: taskID, chatID: chatID}
	if _, err := q.tasks.GetPublishTask(ctx, taskID); err != nil {
		q.recordBatch(ctx, taskID, false)
		return fmt.Errorf("get task %d: %w", taskID, err)
	}
	if err := q.tasks.UpdatePublishTaskStatus(ctx, taskID, domain.TaskProcessing, domain.TaskResult{}); err != nil {
		q.reject(ctx, j, statusFailedMessage)
		return fmt.Errorf("mark task %d processing: %w", taskID, err)
	}

	if delay <= 0 {
		if err := q.enqueue(j); err != nil {
			q.log.Error().Err(err).Int64("task", taskID).Msg("taskqueue: не удалось поставить задачу")
			q.reject(ctx, j, queueFullMessage)
			return err
		}
		q.log.Info().Int64("task", taskID).Msg("taskqueue: задача добавлена в очередь")
		return nil
	}

	bg := context.WithoutCancel(ctx)
	time.AfterFunc(delay, func() {
		if err := q.enqueue(j); err != nil {
			q.log.Error().Err(err).Int64("task", taskID).Msg("taskqueue: не удалось поставить отложенную задачу")
			q.reject(bg, j, queueFullMessage)
		}
	})
	q.log.Info().Int64("task", taskID).Dur("delay", delay).Msg("taskqueue: задача запланирована")
	return nil
}

func (q *Queue) enqueue(j job) error {
	select {
	case q.items <- j:
		metrics.QueueDepth.Set(float64(len(q.items)))
		return nil
	default:
		return ErrQueueFull
	}
}

// reject помечает задачу неуспешной без выполнения.
func (q *Queue) reject(ctx context.Context, j job, reason string) {
	logger := q.log.With().Int64("task", j.taskID).Logger()
	q.setStatus(ctx, logger, j.taskID, domain.TaskFailed, domain.TaskResult{ErrorMessage: reason})
	q.recordBatch(ctx, j.taskID, false)
}

// RegisterTaskBatch объединяет задачи в пакет с общим итоговым отчётом.
func (q *Queue) RegisterTaskBatch(taskIDs []int64, chatID int64) string {
	id := q.batches.Register(taskIDs, chatID)
	q.log.Info().Str("batch", id).Int("tasks", len(taskIDs)).Int64("chat", chatID).Msg("taskqueue: зарегистрирован пакет задач")
	return id
}

// Stats: состояние очереди и текущие адаптивные лимиты.
type Stats struct {
	QueueSize         int     `json:"queue_size"`
	MaxWorkers        int     `json:"max_workers"`
	CurrentMaxWorkers int     `json:"current_max_workers"`
	InFlight          int     `json:"in_flight"`
	SystemDelay       float64 `json:"system_delay"`
	LoadLevel         string  `json:"load_level"`
	IsOverloaded      bool    `json:"is_overloaded"`
	TimeoutMultiplier float64 `json:"timeout_multiplier"`
	BatchSize         int     `json:"batch_size"`
	ActiveBatches     int     `json:"active_batches"`
	Running           bool    `json:"running"`
}

// Stats возвращает снимок состояния очереди.
func (q *Queue) Stats(ctx context.Context) Stats {
	limits := q.fetchLimits(ctx)
	size := len(q.items)
	q.mu.Lock()
	if q.held != nil {
		size++
	}
	running := q.running
	q.mu.Unlock()

	return Stats{
		QueueSize:         size,
		MaxWorkers:        q.cfg.MaxWorkers,
		CurrentMaxWorkers: q.slots.Limit(),
		InFlight:          int(q.inFlight.Load()),
		SystemDelay:       limits.DelayBetweenBatches.Seconds(),
		LoadLevel:         limits.Description,
		IsOverloaded:      limits.Critical,
		TimeoutMultiplier: limits.TimeoutMultiplier,
		BatchSize:         limits.BatchSize,
		ActiveBatches:     q.batches.Len(),
		Running:           running,
	}
}

func (q *Queue) fallbackLimits() domain.AdaptiveLimits {
	return domain.AdaptiveLimits{
		MaxWorkers:          q.cfg.MaxWorkers,
		BatchSize:           1,
		DelayBetweenBatches: 5 * time.Second,
		TimeoutMultiplier:   1,
		Description:         fallbackDescription,
	}
}

func (q *Queue) fetchLimits(ctx context.Context) domain.AdaptiveLimits {
	if q.load == nil {
		return q.fallbackLimits()
	}
	limits, err := q.load.AdaptiveLimits(ctx)
	if err != nil {
		q.log.Warn().Err(err).Msg("taskqueue: не удалось получить адаптивные лимиты, используем базовые")
		return q.fallbackLimits()
	}
	if limits.TimeoutMultiplier <= 0 {
		limits.TimeoutMultiplier = 1
	}
	return limits
}

// refreshLimits обновляет мягкий лимит воркеров не чаще LoadCheckInterval.
func (q *Queue) refreshLimits(ctx context.Context) {
	q.mu.Lock()
	fresh := !q.limitsAt.IsZero() && q.now().Sub(q.limitsAt) < q.cfg.LoadCheckInterval
	q.mu.Unlock()
	if fresh {
		return
	}

	limits := q.fetchLimits(ctx)
	workers := limits.MaxWorkers
	if workers > q.cfg.MaxWorkers {
		workers = q.cfg.MaxWorkers
	}
	if workers < 1 {
		workers = 1
	}
	limits.MaxWorkers = workers

	q.mu.Lock()
	q.limits = limits
	q.limitsAt = q.now()
	q.mu.Unlock()

	if prev := q.slots.Limit(); prev != workers {
		q.slots.SetLimit(workers)
		q.log.Info().Int("from", prev).Int("to", workers).Str("level", limits.Description).Msg("taskqueue: изменён лимит воркеров")
	}
	metrics.QueueWorkerLimit.Set(float64(workers))
}

func (q *Queue) currentLimits() domain.AdaptiveLimits {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.limitsAt.IsZero() {
		return q.fallbackLimits()
	}
	return q.limits
}

func (q *Queue) overloaded(ctx context.Context) bool {
	if q.load == nil {
		return false
	}
	limits, err := q.load.AdaptiveLimits(ctx)
	if err != nil {
		return false
	}
	return limits.Critical
}

func (q *Queue) supervise(ctx context.Context, dispatch chan<- job) {
	for ctx.Err() == nil {
		q.refreshLimits(ctx)

		if q.overloaded(ctx) {
			metrics.QueueOverloaded.Set(1)
			q.log.Warn().Dur("pause", q.cfg.OverloadPause).Msg("taskqueue: критическая перегрузка, выдача задач приостановлена")
			if err := q.sleep(ctx, q.cfg.OverloadPause); err != nil {
				return
			}
			continue
		}
		metrics.QueueOverloaded.Set(0)

		next, ok := q.nextJob(ctx)
		if !ok {
			continue
		}

		acquireCtx, cancel := context.WithTimeout(ctx, q.cfg.PollInterval)
		err := q.slots.Acquire(acquireCtx)
		cancel()
		if err != nil {
			q.hold(next)
			continue
		}

		select {
		case dispatch <- next:
			metrics.QueueDepth.Set(float64(len(q.items)))
		case <-ctx.Done():
			q.slots.Release()
			q.hold(next)
			return
		}
	}
}

// nextJob возвращает отложенную супервизором задачу или ждёт новую не дольше PollInterval.
func (q *Queue) nextJob(ctx context.Context) (job, bool) {
	q.mu.Lock()
	if q.held != nil {
		j := *q.held
		q.held = nil
		q.mu.Unlock()
		return j, true
	}
	q.mu.Unlock()

	timer := time.NewTimer(q.cfg.PollInterval)
	defer timer.Stop()
	select {
	case j := <-q.items:
		return j, true
	case <-timer.C:
		return job{}, false
	case <-ctx.Done():
		return job{}, false
	}
}

func (q *Queue) hold(j job) {
	q.mu.Lock()
	q.held = &j
	q.mu.Unlock()
}

func (q *Queue) worker(ctx context.Context, dispatch <-chan job) {
	for j := range dispatch {
		q.run(ctx, j)
	}
}

func (q *Queue) run(ctx context.Context, j job) {
	defer q.slots.Release()
	metrics.QueueInFlight.Set(float64(q.inFlight.Add(1)))
	defer func() {
		metrics.QueueInFlight.Set(float64(q.inFlight.Add(-1)))
	}()
	q.process(ctx, j)
}

// execution хранит состояние задачи, нужное обработчику паники.
type execution struct {
	task     domain.PublishTask
	chatID   int64
	start    time.Time
	recorded bool
}

func (q *Queue) process(ctx context.Context, j job) {
	st := &execution{chatID: j.chatID, start: time.Now()}
	logger := q.log.With().Int64("task", j.taskID).Logger()

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		msg := fmt.Sprint(r)
		logger.Error().Str("panic", msg).Bytes("stack", debug.Stack()).Msg("taskqueue: паника при выполнении задачи")
		q.setStatus(ctx, logger, j.taskID, domain.TaskFailed, domain.TaskResult{ErrorMessage: msg})
		q.notify(ctx, logger, st.chatID, fmt.Sprintf("❌ Критическая ошибка при выполнении задачи #%d:\n%s", j.taskID, msg))
		metrics.ObserveTask("panic", string(st.task.TaskType), st.start)
		if !st.recorded {
			st.recorded = true
			q.recordBatch(ctx, j.taskID, false)
		}
	}()

	success := q.execute(ctx, logger, j, st)
	st.recorded = true
	q.recordBatch(ctx, j.taskID, success)
}

func (q *Queue) execute(ctx context.Context, logger zerolog.Logger, j job, st *execution) bool {
	if !q.passOverloadGate(ctx, logger) {
		logger.Error().Msg("taskqueue: задача отклонена из-за критической перегрузки")
		q.setStatus(ctx, logger, j.taskID, domain.TaskFailed, domain.TaskResult{ErrorMessage: overloadMessage})
		metrics.ObserveTask("overloaded", "", st.start)
		return false
	}

	task, err := q.tasks.GetPublishTask(ctx, j.taskID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Error().Msg("taskqueue: задача не найдена")
		} else {
			logger.Error().Err(err).Msg("taskqueue: не удалось загрузить задачу")
		}
		metrics.ObserveTask("not_found", "", st.start)
		return false
	}
	st.task = task
	if st.chatID == 0 {
		st.chatID = task.UserID
	}
	logger = logger.With().Int64("account", task.AccountID).Str("type", string(task.TaskType)).Logger()

	unlock := q.locks.Lock(task.AccountID)
	defer unlock()

	if q.activity != nil {
		if decision := q.activity.Admit(task.AccountID, task.UserID); !decision.Allowed {
			reason := fmt.Sprintf("%s: %s", inactiveMessage, decision.Reason)
			logger.Warn().Str("reason", decision.Reason).Dur("wait", decision.WaitTime).Msg("taskqueue: аккаунт не допущен оптимизатором")
			q.setStatus(ctx, logger, task.ID, domain.TaskFailed, domain.TaskResult{ErrorMessage: reason})
			q.notify(ctx, logger, st.chatID, fmt.Sprintf("❌ Не удалось выполнить публикацию!\nАккаунт: @%s\nПричина: %s", task.AccountUsername, reason))
			metrics.ObserveTask("inactive", string(task.TaskType), st.start)
			return false
		}
	}

	valid, err := q.validator.ValidateBeforeUse(ctx, task.AccountID)
	if err != nil {
		logger.Warn().Err(err).Msg("taskqueue: ошибка проверки аккаунта")
		valid = false
	}
	if !valid {
		q.setStatus(ctx, logger, task.ID, domain.TaskFailed, domain.TaskResult{ErrorMessage: invalidAccountMessage})
		q.notify(ctx, logger, st.chatID, fmt.Sprintf("❌ Не удалось выполнить публикацию!\nАккаунт: @%s\nПричина: %s", task.AccountUsername, invalidAccountMessage))
		metrics.ObserveTask("invalid_account", string(task.TaskType), st.start)
		return false
	}

	q.setStatus(ctx, logger, task.ID, domain.TaskProcessing, domain.TaskResult{})

	limits := q.currentLimits()
	if err := q.sleep(ctx, q.pacingDelay(limits)); err != nil {
		logger.Warn().Err(err).Msg("taskqueue: ожидание перед публикацией прервано")
	}

	opts, err := decodeOptions(task.Options)
	if err != nil {
		logger.Warn().Err(err).Msg("taskqueue: некорректные параметры задачи, используем пустые")
	}
	plan := planPublication(q.publisher, task, opts)

	publishCtx, cancel := context.WithTimeout(ctx, time.Duration(float64(q.cfg.PublishTimeout)*limits.TimeoutMultiplier))
	mediaID, err := q.publish(publishCtx, task.AccountID, plan)
	cancel()

	if err != nil {
		reason := publishFailedMessage
		if domain.IsRefusal(err) {
			reason = fmt.Sprintf("%s: %s", publishFailedMessage, err.Error())
			logger.Warn().Str("reason", err.Error()).Msg("taskqueue: публикация отклонена ограничителем")
		} else {
			logger.Error().Err(err).Msg("taskqueue: ошибка публикации")
		}
		q.setStatus(ctx, logger, task.ID, domain.TaskFailed, domain.TaskResult{ErrorMessage: reason})
		q.notify(ctx, logger, st.chatID, fmt.Sprintf("❌ Ошибка публикации!\nАккаунт: @%s\nОшибка: %s", task.AccountUsername, reason))
		metrics.ObserveTask("failed", string(task.TaskType), st.start)
		return false
	}

	if q.activity != nil {
		q.activity.Touch(task.AccountID)
	}
	q.setStatus(ctx, logger, task.ID, domain.TaskCompleted, domain.TaskResult{MediaID: mediaID})
	q.notify(ctx, logger, st.chatID, fmt.Sprintf("✅ Публикация успешно завершена!\nАккаунт: @%s\nТип: %s\nСсылка: %s",
		task.AccountUsername, contentLabel(task.TaskType, plan.reel), mediaURL(mediaID, plan.reel, task.TaskType)))
	metrics.ObserveTask("completed", string(task.TaskType), st.start)
	logger.Info().Str("media_id", mediaID).Msg("taskqueue: публикация завершена")
	return true
}

// passOverloadGate при критической нагрузке ждёт один раз OverloadPause и перепроверяет.
func (q *Queue) passOverloadGate(ctx context.Context, logger zerolog.Logger) bool {
	if !q.overloaded(ctx) {
		return true
	}
	logger.Warn().Dur("pause", q.cfg.OverloadPause).Msg("taskqueue: критическая перегрузка, задача ждёт")
	if err := q.sleep(ctx, q.cfg.OverloadPause); err != nil {
		return false
	}
	return !q.overloaded(ctx)
}

// pacingDelay возвращает 2–5 секунд плюс десятая часть системной задержки.
func (q *Queue) pacingDelay(limits domain.AdaptiveLimits) time.Duration {
	base := 2*time.Second + time.Duration(q.rand()*float64(3*time.Second))
	return base + limits.DelayBetweenBatches/10
}

func (q *Queue) publish(ctx context.Context, accountID int64, plan publication) (string, error) {
	if q.guard == nil {
		return plan.run(ctx)
	}
	return q.guard.PerformSafeAction(ctx, accountID, plan.action, plan.run)
}

func (q *Queue) setStatus(ctx context.Context, logger zerolog.Logger, taskID int64, status domain.TaskStatus, result domain.TaskResult) {
	if err := q.tasks.UpdatePublishTaskStatus(ctx, taskID, status, result); err != nil {
		logger.Error().Err(err).Str("status", string(status)).Msg("taskqueue: не удалось обновить статус задачи")
	}
}

func (q *Queue) notify(ctx context.Context, logger zerolog.Logger, chatID int64, text string) {
	if q.notifier == nil || chatID == 0 {
		return
	}
	if err := q.notifier.Notify(ctx, chatID, text); err != nil {
		logger.Warn().Err(err).Int64("chat", chatID).Msg("taskqueue: не удалось отправить уведомление")
	}
}

func (q *Queue) recordBatch(ctx context.Context, taskID int64, success bool) {
	report, done := q.batches.Record(taskID, success)
	if !done {
		return
	}
	metrics.BatchReportsTotal.Inc()
	q.log.Info().
		Str("batch", report.ID).
		Int("total", report.Total).
		Int("completed", report.Completed).
		Int("failed", report.Failed).
		Msg("taskqueue: пакет задач завершён")
	q.notify(ctx, q.log, report.ChatID, report.Text())
}
