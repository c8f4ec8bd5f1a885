// Package api exposes the control surface over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Arun8573/codec-technology/internal/domain"
	"github.com/Arun8573/codec-technology/internal/export"
	"github.com/Arun8573/codec-technology/internal/service"
	"github.com/Arun8573/codec-technology/internal/supervisor"
)

type Service interface {
	ScheduleJob(ctx context.Context, req service.ScheduleRequest) (domain.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (domain.Job, error)
	ListJobs(ctx context.Context, enabledOnly bool) ([]domain.Job, error)
	DisableJob(ctx context.Context, id uuid.UUID) error
	EnableJob(ctx context.Context, id uuid.UUID) error
	DeleteJob(ctx context.Context, id uuid.UUID) error
	RunNow(ctx context.Context, id uuid.UUID) (domain.Task, bool, error)
	GetTask(ctx context.Context, id uuid.UUID) (service.TaskDetail, error)
	GetStatistics(ctx context.Context) (domain.Statistics, error)
	Export(ctx context.Context, filter domain.RecordFilter, limit int) ([]domain.Record, error)
	GetRecord(ctx context.Context, taskID uuid.UUID) (domain.Record, error)
}

// HealthReporter provides the aggregate engine health for /health.
type HealthReporter interface {
	Health(ctx context.Context) supervisor.Health
}

type Handler struct {
	svc    Service
	health HealthReporter // optional, nil = always ok
	logger *zap.Logger
	router chi.Router
}

func NewHandler(svc Service) *Handler {
	h := &Handler{svc: svc, logger: zap.NewNop()}
	h.router = h.routes()
	return h
}

// WithHealth enables dependency checks on /health.
func (h *Handler) WithHealth(hr HealthReporter) *Handler {
	h.health = hr
	return h
}

func (h *Handler) WithLogger(logger *zap.Logger) *Handler {
	h.logger = logger.Named("api")
	return h
}

func (h *Handler) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", h.getHealth)

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", h.createJob)
		r.Get("/", h.listJobs)
		r.Get("/{id}", h.getJob)
		r.Delete("/{id}", h.deleteJob)
		r.Post("/{id}/disable", h.disableJob)
		r.Post("/{id}/enable", h.enableJob)
		r.Post("/{id}/run", h.runJob)
	})

	r.Get("/tasks/{id}", h.getTask)
	r.Get("/stats", h.getStats)
	r.Get("/records", h.listRecords)
	r.Get("/records/{id}", h.getRecord)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// HealthResponse is the short /health body.
type HealthResponse struct {
	Status string `json:"status"`
}

func (h *Handler) getHealth(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: supervisor.StatusOK})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	health := h.health.Health(ctx)

	status := http.StatusOK
	if health.Status != supervisor.StatusOK {
		status = http.StatusServiceUnavailable
	}
	if r.URL.Query().Get("verbose") == "true" {
		writeJSON(w, status, health)
		return
	}
	writeJSON(w, status, HealthResponse{Status: health.Status})
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func (h *Handler) createJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	job, err := h.svc.ScheduleJob(r.Context(), toScheduleRequest(req))
	if err != nil {
		h.writeServiceError(w, "create job", err)
		return
	}
	writeJSON(w, http.StatusCreated, newJobResponse(job))
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	enabledOnly := r.URL.Query().Get("enabled") == "true"
	jobs, err := h.svc.ListJobs(r.Context(), enabledOnly)
	if err != nil {
		h.writeServiceError(w, "list jobs", err)
		return
	}

	resp := ListJobsResponse{Jobs: make([]JobResponse, len(jobs))}
	for i, j := range jobs {
		resp.Jobs[i] = newJobResponse(j)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	job, err := h.svc.GetJob(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "get job", err)
		return
	}
	writeJSON(w, http.StatusOK, newJobResponse(job))
}

func (h *Handler) deleteJob(w http.ResponseWriter, r *http.Request) {
	h.jobAction(w, r, "delete job", h.svc.DeleteJob, false)
}

func (h *Handler) disableJob(w http.ResponseWriter, r *http.Request) {
	h.jobAction(w, r, "disable job", h.svc.DisableJob, true)
}

func (h *Handler) enableJob(w http.ResponseWriter, r *http.Request) {
	h.jobAction(w, r, "enable job", h.svc.EnableJob, true)
}

// jobAction runs op on the job in the path. When respond is set the updated
// job is returned, otherwise 204.
func (h *Handler) jobAction(w http.ResponseWriter, r *http.Request, name string,
	op func(context.Context, uuid.UUID) error, respond bool) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	if err := op(r.Context(), id); err != nil {
		h.writeServiceError(w, name, err)
		return
	}
	if !respond {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	job, err := h.svc.GetJob(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, name, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobResponse(job))
}

func (h *Handler) runJob(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	task, inserted, err := h.svc.RunNow(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "run job", err)
		return
	}
	status := http.StatusAccepted
	if !inserted {
		status = http.StatusOK
	}
	writeJSON(w, status, RunResponse{Task: newTaskResponse(task, nil), Inserted: inserted})
}

func (h *Handler) getTask(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	detail, err := h.svc.GetTask(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "get task", err)
		return
	}
	writeJSON(w, http.StatusOK, newTaskResponse(detail.Task, detail.Failures))
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.GetStatistics(r.Context())
	if err != nil {
		h.writeServiceError(w, "statistics", err)
		return
	}
	writeJSON(w, http.StatusOK, newStatsResponse(st))
}

func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request) {
	filter, limit, format, err := parseRecordQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := h.svc.Export(r.Context(), filter, limit)
	if err != nil {
		h.writeServiceError(w, "list records", err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	if format == export.FormatCSV {
		w.Header().Set("Content-Disposition", `attachment; filename="records.csv"`)
	}
	w.WriteHeader(http.StatusOK)
	if err := export.Write(w, format, records); err != nil {
		h.logger.Warn("write records failed", zap.Error(err))
	}
}

func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	rec, err := h.svc.GetRecord(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "get record", err)
		return
	}
	writeJSON(w, http.StatusOK, export.NewRow(rec))
}

// writeServiceError maps domain errors onto status codes. Internal errors
// are logged and hidden from the client.
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case service.IsInvalid(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, domain.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, domain.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, "record not found")
	case errors.Is(err, domain.ErrJobExists):
		writeError(w, http.StatusConflict, "job already exists")
	default:
		h.logger.Error(op+" failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
