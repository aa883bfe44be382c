package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nas2net/oss-relay/internal/store"
)

const (
	defaultTaskLimit       = 50
	maxTaskLimit           = 500
	defaultConversionLimit = 100
	maxConversionLimit     = 1000
	auditTimeout           = 3 * time.Second
)

// AuditHandler exposes read-only task history endpoints backed by the audit
// repository. All handlers answer 503 when no repository is configured.
type AuditHandler struct {
	repo    store.AuditRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewAuditHandler wires the repository and logger.
func NewAuditHandler(repo store.AuditRepository, logger *zap.Logger) *AuditHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditHandler{
		repo:    repo,
		timeout: auditTimeout,
		logger:  logger,
	}
}

// ListTasks handles GET /v1/audit/tasks?status=&limit=&offset=.
func (h *AuditHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "audit repository unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultTaskLimit, maxTaskLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *store.TaskRunStatus
	if statusParam := strings.TrimSpace(r.URL.Query().Get("status")); statusParam != "" {
		statusVal, parseErr := parseRunStatus(statusParam)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		status = &statusVal
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	runs, err := h.repo.ListTaskRuns(ctx, status, limit, offset)
	if err != nil {
		h.logger.Error("list task runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": toTaskRunDTOs(runs)})
}

// GetTask handles GET /v1/audit/tasks/{task_id}.
func (h *AuditHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "audit repository unavailable")
		return
	}
	taskID, err := parseTaskID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.repo.GetTaskRun(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		h.logger.Error("get task run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load task")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": toTaskRunDTO(run)})
}

// ListConversions handles GET /v1/audit/tasks/{task_id}/conversions.
func (h *AuditHandler) ListConversions(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "audit repository unavailable")
		return
	}
	taskID, err := parseTaskID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultConversionLimit, maxConversionLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	recs, err := h.repo.ListConversions(ctx, taskID, limit, offset)
	if err != nil {
		h.logger.Error("list conversions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list conversions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversions": toConversionDTOs(recs)})
}

func parseTaskID(r *http.Request) (uuid.UUID, error) {
	taskIDStr := chi.URLParam(r, "task_id")
	if taskIDStr == "" {
		return uuid.UUID{}, errors.New("task_id is required")
	}
	taskID, err := uuid.Parse(taskIDStr)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid task_id")
	}
	return taskID, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseRunStatus(input string) (store.TaskRunStatus, error) {
	switch strings.ToLower(input) {
	case "running":
		return store.RunRunning, nil
	case "done":
		return store.RunDone, nil
	default:
		return "", errors.New("invalid status")
	}
}

func toTaskRunDTOs(in []store.TaskRun) []taskRunDTO {
	out := make([]taskRunDTO, 0, len(in))
	for _, run := range in {
		out = append(out, toTaskRunDTO(run))
	}
	return out
}

func toTaskRunDTO(run store.TaskRun) taskRunDTO {
	return taskRunDTO{
		TaskID:     run.TaskID.String(),
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Status:     string(run.Status),
		Total:      run.Total,
		Succeeded:  run.Succeeded,
		Failed:     run.Failed,
		Skipped:    run.Skipped,
	}
}

func toConversionDTOs(in []store.ConversionRecord) []conversionDTO {
	out := make([]conversionDTO, 0, len(in))
	for _, rec := range in {
		out = append(out, conversionDTO{
			URL:        rec.URL,
			Site:       rec.Site,
			Status:     rec.Status,
			Bytes:      rec.Bytes,
			DurationMs: rec.DurationMs,
			Error:      rec.Error,
			At:         rec.At,
		})
	}
	return out
}

type taskRunDTO struct {
	TaskID     string     `json:"task_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	Total      int        `json:"total"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
	Skipped    int        `json:"skipped"`
}

type conversionDTO struct {
	URL        string    `json:"url"`
	Site       string    `json:"site"`
	Status     string    `json:"status"`
	Bytes      int64     `json:"bytes"`
	DurationMs int64     `json:"duration_ms"`
	Error      *string   `json:"error,omitempty"`
	At         time.Time `json:"at"`
}
