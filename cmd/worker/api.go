package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"ig-automation/internal/adapters/sysload"
	"ig-automation/internal/domain"
	apphttp "ig-automation/internal/infra/http"
	"ig-automation/internal/usecase/activity"
	"ig-automation/internal/usecase/automation"
	"ig-automation/internal/usecase/lifecycle"
	"ig-automation/internal/usecase/ratelimit"
	"ig-automation/internal/usecase/risk"
	"ig-automation/internal/usecase/taskqueue"
)

const maxBlockDuration = 24 * time.Hour

type queueAPI interface {
	Stats(ctx context.Context) taskqueue.Stats
	RegisterTaskBatch(taskIDs []int64, chatID int64) string
	AddTask(ctx context.Context, taskID, chatID int64, delay time.Duration) error
}

type loadAPI interface {
	Status(ctx context.Context) (sysload.Status, bool)
}

type automationAPI interface {
	AccountStatus(ctx context.Context, accountID int64) (automation.Status, error)
	SmartWarmAccount(ctx context.Context, accountID int64, duration time.Duration) (string, error)
	DailyRecommendations(ctx context.Context) (map[int64]automation.Digest, error)
}

type stagesAPI interface {
	DetermineAccountStage(ctx context.Context, accountID int64) lifecycle.Stage
	PlanStageTransition(ctx context.Context, accountID int64) (lifecycle.TransitionPlan, error)
	StagesDistribution(ctx context.Context) (map[lifecycle.Stage][]lifecycle.AccountStage, error)
}

type limitsAPI interface {
	Limits(ctx context.Context, accountID int64) ratelimit.Limits
	ActionStats(accountID int64) ratelimit.ActionStats
	BlockAction(accountID int64, action domain.ActionType, duration time.Duration)
}

type riskAPI interface {
	AccountsRiskSummary(ctx context.Context) (risk.Summary, error)
}

type optimizerAPI interface {
	Stats() activity.Stats
	DeactivateAccount(accountID int64, cooldown time.Duration)
}

type apiDeps struct {
	queue      queueAPI
	load       loadAPI
	automation automationAPI
	stages     stagesAPI
	limits     limitsAPI
	risk       riskAPI
	optimizer  optimizerAPI
}

// loadStatus отдаёт состояние монитора нагрузки, если он доступен.
type loadStatus struct{ monitor *sysload.Monitor }

func newLoadStatus(monitor *sysload.Monitor) loadStatus { return loadStatus{monitor: monitor} }

func (l loadStatus) Status(ctx context.Context) (sysload.Status, bool) {
	if l.monitor == nil {
		return sysload.Status{}, false
	}
	return l.monitor.Status(ctx), true
}

type addTasksRequest struct {
	TaskIDs      []int64 `json:"task_ids"`
	ChatID       int64   `json:"chat_id"`
	DelaySeconds int     `json:"delay_seconds"`
}

type addTasksResponse struct {
	BatchID  string  `json:"batch_id,omitempty"`
	Accepted []int64 `json:"accepted"`
	Rejected []int64 `json:"rejected,omitempty"`
}

type blockRequest struct {
	Action          domain.ActionType `json:"action"`
	DurationSeconds int               `json:"duration_seconds"`
}

// warmupRequest используется и для прогрева, и для кулдауна деактивации.
type warmupRequest struct {
	DurationSeconds int `json:"duration_seconds"`
}

type limitsResponse struct {
	Tier   ratelimit.Tier            `json:"tier"`
	Hourly map[domain.ActionType]int `json:"hourly_limits"`
	Daily  map[domain.ActionType]int `json:"daily_limits"`
	Usage  ratelimit.ActionStats     `json:"usage"`
}

type stageResponse struct {
	Stage lifecycle.Stage          `json:"stage"`
	Title string                   `json:"title"`
	Plan  lifecycle.TransitionPlan `json:"plan"`
}

// mountAPI регистрирует служебные маршруты воркера.
func mountAPI(r chi.Router, token string, deps apiDeps, logger zerolog.Logger) {
	log := logger.With().Str("component", "api").Logger()

	r.Group(func(protected chi.Router) {
		protected.Use(apphttp.TokenAuthMiddleware(token))

		protected.Get("/api/v1/queue/stats", func(w http.ResponseWriter, r *http.Request) {
			apphttp.WriteJSON(w, http.StatusOK, deps.queue.Stats(r.Context()))
		})

		protected.Post("/api/v1/tasks", func(w http.ResponseWriter, r *http.Request) {
			defer r.Body.Close()
			var req addTasksRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				apphttp.WriteError(w, http.StatusBadRequest, "некорректный JSON")
				return
			}
			if len(req.TaskIDs) == 0 {
				apphttp.WriteError(w, http.StatusBadRequest, "task_ids пуст")
				return
			}
			if req.DelaySeconds < 0 {
				apphttp.WriteError(w, http.StatusBadRequest, "delay_seconds не может быть отрицательным")
				return
			}
			var resp addTasksResponse
			if len(req.TaskIDs) > 1 && req.ChatID != 0 {
				resp.BatchID = deps.queue.RegisterTaskBatch(req.TaskIDs, req.ChatID)
			}
			delay := time.Duration(req.DelaySeconds) * time.Second
			for _, taskID := range req.TaskIDs {
				err := deps.queue.AddTask(r.Context(), taskID, req.ChatID, delay)
				if errors.Is(err, taskqueue.ErrStopped) {
					apphttp.WriteError(w, http.StatusServiceUnavailable, "очередь остановлена")
					return
				}
				if err != nil {
					log.Warn().Err(err).Int64("task", taskID).Msg("api: задача не принята")
					resp.Rejected = append(resp.Rejected, taskID)
					continue
				}
				resp.Accepted = append(resp.Accepted, taskID)
			}
			apphttp.WriteJSON(w, http.StatusAccepted, resp)
		})

		protected.Get("/api/v1/system/load", func(w http.ResponseWriter, r *http.Request) {
			status, ok := deps.load.Status(r.Context())
			if !ok {
				apphttp.WriteError(w, http.StatusServiceUnavailable, "мониторинг нагрузки недоступен")
				return
			}
			apphttp.WriteJSON(w, http.StatusOK, status)
		})

		protected.Get("/api/v1/accounts/risk", func(w http.ResponseWriter, r *http.Request) {
			summary, err := deps.risk.AccountsRiskSummary(r.Context())
			if err != nil {
				log.Error().Err(err).Msg("api: не удалось посчитать сводку рисков")
				apphttp.WriteError(w, http.StatusInternalServerError, "не удалось посчитать сводку рисков")
				return
			}
			apphttp.WriteJSON(w, http.StatusOK, summary)
		})

		protected.Get("/api/v1/accounts/recommendations", func(w http.ResponseWriter, r *http.Request) {
			digest, err := deps.automation.DailyRecommendations(r.Context())
			if err != nil {
				log.Error().Err(err).Msg("api: не удалось собрать рекомендации")
				apphttp.WriteError(w, http.StatusInternalServerError, "не удалось собрать рекомендации")
				return
			}
			apphttp.WriteJSON(w, http.StatusOK, digest)
		})

		protected.Get("/api/v1/accounts/stages", func(w http.ResponseWriter, r *http.Request) {
			distribution, err := deps.stages.StagesDistribution(r.Context())
			if err != nil {
				log.Error().Err(err).Msg("api: не удалось посчитать распределение по этапам")
				apphttp.WriteError(w, http.StatusInternalServerError, "не удалось посчитать распределение по этапам")
				return
			}
			apphttp.WriteJSON(w, http.StatusOK, distribution)
		})

		protected.Post("/api/v1/accounts/{id}/warmup", func(w http.ResponseWriter, r *http.Request) {
			id, ok := accountID(w, r)
			if !ok {
				return
			}
			defer r.Body.Close()
			var req warmupRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				apphttp.WriteError(w, http.StatusBadRequest, "некорректный JSON")
				return
			}
			message, err := deps.automation.SmartWarmAccount(r.Context(), id, time.Duration(req.DurationSeconds)*time.Second)
			var refusal *domain.Refusal
			switch {
			case errors.As(err, &refusal):
				apphttp.WriteError(w, http.StatusConflict, refusal.Reason)
			case errors.Is(err, domain.ErrNotFound):
				apphttp.WriteError(w, http.StatusNotFound, "аккаунт не найден")
			case err != nil:
				log.Error().Err(err).Int64("account", id).Msg("api: прогрев не удался")
				apphttp.WriteError(w, http.StatusBadGateway, "прогрев не удался")
			default:
				apphttp.WriteJSON(w, http.StatusOK, map[string]string{"message": message})
			}
		})

		protected.Get("/api/v1/accounts/{id}/status", func(w http.ResponseWriter, r *http.Request) {
			id, ok := accountID(w, r)
			if !ok {
				return
			}
			status, err := deps.automation.AccountStatus(r.Context(), id)
			if errors.Is(err, domain.ErrNotFound) {
				apphttp.WriteError(w, http.StatusNotFound, "аккаунт не найден")
				return
			}
			if err != nil {
				log.Error().Err(err).Int64("account", id).Msg("api: не удалось получить статус аккаунта")
				apphttp.WriteError(w, http.StatusInternalServerError, "не удалось получить статус аккаунта")
				return
			}
			apphttp.WriteJSON(w, http.StatusOK, status)
		})

		protected.Get("/api/v1/accounts/{id}/stage", func(w http.ResponseWriter, r *http.Request) {
			id, ok := accountID(w, r)
			if !ok {
				return
			}
			plan, err := deps.stages.PlanStageTransition(r.Context(), id)
			if errors.Is(err, domain.ErrNotFound) {
				apphttp.WriteError(w, http.StatusNotFound, "аккаунт не найден")
				return
			}
			if err != nil {
				log.Error().Err(err).Int64("account", id).Msg("api: не удалось построить план этапа")
				apphttp.WriteError(w, http.StatusInternalServerError, "не удалось построить план этапа")
				return
			}
			stage := deps.stages.DetermineAccountStage(r.Context(), id)
			apphttp.WriteJSON(w, http.StatusOK, stageResponse{Stage: stage, Title: stage.Title(), Plan: plan})
		})

		protected.Get("/api/v1/accounts/{id}/limits", func(w http.ResponseWriter, r *http.Request) {
			id, ok := accountID(w, r)
			if !ok {
				return
			}
			limits := deps.limits.Limits(r.Context(), id)
			apphttp.WriteJSON(w, http.StatusOK, limitsResponse{
				Tier:   limits.Tier,
				Hourly: limits.Hourly,
				Daily:  limits.Daily,
				Usage:  deps.limits.ActionStats(id),
			})
		})

		protected.Post("/api/v1/accounts/{id}/block", func(w http.ResponseWriter, r *http.Request) {
			id, ok := accountID(w, r)
			if !ok {
				return
			}
			defer r.Body.Close()
			var req blockRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				apphttp.WriteError(w, http.StatusBadRequest, "некорректный JSON")
				return
			}
			if !knownAction(req.Action) {
				apphttp.WriteError(w, http.StatusBadRequest, "неизвестный тип действия")
				return
			}
			duration := time.Duration(req.DurationSeconds) * time.Second
			if duration <= 0 || duration > maxBlockDuration {
				apphttp.WriteError(w, http.StatusBadRequest, "duration_seconds должен быть от 1 до 86400")
				return
			}
			deps.limits.BlockAction(id, req.Action, duration)
			w.WriteHeader(http.StatusNoContent)
		})

		protected.Post("/api/v1/accounts/{id}/deactivate", func(w http.ResponseWriter, r *http.Request) {
			id, ok := accountID(w, r)
			if !ok {
				return
			}
			defer r.Body.Close()
			var req warmupRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				apphttp.WriteError(w, http.StatusBadRequest, "некорректный JSON")
				return
			}
			if req.DurationSeconds < 0 {
				apphttp.WriteError(w, http.StatusBadRequest, "duration_seconds не может быть отрицательным")
				return
			}
			deps.optimizer.DeactivateAccount(id, time.Duration(req.DurationSeconds)*time.Second)
			w.WriteHeader(http.StatusNoContent)
		})

		protected.Get("/api/v1/optimizer/stats", func(w http.ResponseWriter, r *http.Request) {
			apphttp.WriteJSON(w, http.StatusOK, deps.optimizer.Stats())
		})
	})
}

func accountID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		apphttp.WriteError(w, http.StatusBadRequest, "некорректный id аккаунта")
		return 0, false
	}
	return id, true
}

func knownAction(action domain.ActionType) bool {
	for _, known := range domain.AllActionTypes() {
		if known == action {
			return true
		}
	}
	return false
}
