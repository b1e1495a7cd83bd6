package taskqueue

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"ig-automation/internal/domain"
)

// Consume читает задания из очереди приёма и передаёт задачи в очередь выполнения.
// Возвращается при отмене ctx.
func (q *Queue) Consume(ctx context.Context, intake domain.TaskIntake) {
	for {
		pj, ack, err := intake.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			q.log.Error().Err(err).Msg("taskqueue: ошибка чтения очереди приёма")
			if sleepContext(ctx, time.Second) != nil {
				return
			}
			continue
		}

		jobLog := q.log.With().
			Str("job_id", pj.ID).
			Int64("chat", pj.ChatID).
			Ints64("tasks", pj.TaskIDs).
			Logger()

		if len(pj.TaskIDs) == 0 {
			jobLog.Warn().Msg("taskqueue: получено задание без задач, подтверждаем и пропускаем")
			q.ack(jobLog, ack, true)
			continue
		}

		if !q.Running() {
			jobLog.Warn().Msg("taskqueue: очередь остановлена, возвращаем задание")
			q.ack(jobLog, ack, false)
			if sleepContext(ctx, time.Second) != nil {
				return
			}
			continue
		}

		rest := q.accept(ctx, jobLog, pj)
		switch {
		case len(rest) == 0:
			q.ack(jobLog, ack, true)
		case len(rest) == len(pj.TaskIDs):
			jobLog.Warn().Msg("taskqueue: очередь остановлена, возвращаем задание")
			q.ack(jobLog, ack, false)
			if sleepContext(ctx, time.Second) != nil {
				return
			}
		default:
			q.requeueRest(ctx, jobLog, intake, pj, rest)
			q.ack(jobLog, ack, true)
		}
	}
}

// accept ставит задачи задания в очередь. Возвращает задачи, не принятые из-за остановки очереди.
func (q *Queue) accept(ctx context.Context, logger zerolog.Logger, pj domain.PublishJob) []int64 {
	if len(pj.TaskIDs) > 1 && pj.ChatID != 0 {
		q.RegisterTaskBatch(pj.TaskIDs, pj.ChatID)
	}
	delay := time.Duration(pj.DelaySeconds) * time.Second

	for i, taskID := range pj.TaskIDs {
		err := q.AddTask(ctx, taskID, pj.ChatID, delay)
		switch {
		case err == nil:
		case errors.Is(err, ErrStopped):
			return pj.TaskIDs[i:]
		case errors.Is(err, domain.ErrNotFound):
			logger.Error().Int64("task", taskID).Msg("taskqueue: задача из задания не найдена")
		default:
			logger.Error().Err(err).Int64("task", taskID).Msg("taskqueue: задача отклонена")
		}
	}
	return nil
}

// requeueRest возвращает в очередь приёма задачи, не принятые после остановки очереди.
func (q *Queue) requeueRest(ctx context.Context, logger zerolog.Logger, intake domain.TaskIntake, pj domain.PublishJob, rest []int64) {
	next := pj
	next.TaskIDs = append([]int64(nil), rest...)
	if err := intake.Enqueue(context.WithoutCancel(ctx), next); err != nil {
		logger.Error().Err(err).Ints64("rest", rest).Msg("taskqueue: не удалось вернуть оставшиеся задачи")
		return
	}
	logger.Warn().Ints64("rest", rest).Msg("taskqueue: очередь остановлена, оставшиеся задачи возвращены")
}

func (q *Queue) ack(logger zerolog.Logger, ack domain.AckFunc, success bool) {
	if err := ack(success); err != nil {
		logger.Error().Err(err).Bool("success", success).Msg("taskqueue: не удалось подтвердить задание")
	}
}
