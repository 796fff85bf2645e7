package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/go-action-flow/internal/domain"
	"github.com/ramiqadoumi/go-action-flow/internal/quota"
	"github.com/ramiqadoumi/go-action-flow/services/scheduler"
	"github.com/ramiqadoumi/go-action-flow/services/scheduler/middleware"
)

// Scheduler is the surface the REST handler drives.
type Scheduler interface {
	scheduler.Enqueuer
	QueueStatus() scheduler.QueueStatus
	QuotaStatus() []quota.Snapshot
	Task(id string) (*domain.Task, error)
}

// ReadyCheck reports whether a dependency the scheduler needs is reachable.
type ReadyCheck func(ctx context.Context) error

// REST handles HTTP requests for the scheduler.
type REST struct {
	sched  Scheduler
	checks map[string]ReadyCheck
	logger *slog.Logger
}

// NewREST creates a new REST handler. checks are run by /readyz.
func NewREST(sched Scheduler, checks map[string]ReadyCheck, logger *slog.Logger) *REST {
	return &REST{sched: sched, checks: checks, logger: logger}
}

// NewRouter mounts h with the standard middleware stack.
func NewRouter(h *REST, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1MB limit
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/actions", h.SubmitAction)
		r.Get("/actions/{id}", h.GetAction)
		r.Get("/queue", h.GetQueue)
		r.Get("/quota", h.GetQuota)
	})
	return r
}

// SubmitActionResponse is the 202 response body.
type SubmitActionResponse struct {
	TaskID       string    `json:"task_id"`
	Status       string    `json:"status"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

// SubmitAction handles POST /api/v1/actions.
func (h *REST) SubmitAction(w http.ResponseWriter, r *http.Request) {
	_, span := otel.Tracer("scheduler").Start(r.Context(), "scheduler.submit_action")
	defer span.End()

	var req scheduler.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := req.Submit(h.sched)
	if err != nil {
		var invalid *domain.InvalidTargetError
		var unknown *domain.UnknownPlatformError
		if errors.As(err, &invalid) || errors.As(err, &unknown) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "enqueue failed")
		h.logger.Error("failed to enqueue action", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to enqueue action")
		return
	}
	span.SetAttributes(attribute.String("task.id", id))

	resp := SubmitActionResponse{TaskID: id, Status: string(domain.StatusPending)}
	if task, err := h.sched.Task(id); err == nil {
		resp.Status = string(task.Status)
		resp.ScheduledFor = task.ScheduledFor
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// GetAction handles GET /api/v1/actions/{id}.
func (h *REST) GetAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, err := h.sched.Task(id)
	if err != nil {
		var notFound *domain.TaskNotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "action not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to retrieve action")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// GetQueue handles GET /api/v1/queue.
func (h *REST) GetQueue(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.sched.QueueStatus())
}

// GetQuota handles GET /api/v1/quota.
func (h *REST) GetQuota(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.sched.QuotaStatus())
}

// Healthz handles GET /healthz.
func (h *REST) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz handles GET /readyz and runs every registered check.
func (h *REST) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("readiness check failed", slog.String("check", name), slog.String("error", err.Error()))
			writeError(w, http.StatusServiceUnavailable, name+" not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
