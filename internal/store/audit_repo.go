package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("audit record not found")

// TaskRunStatus mirrors the task_runs status column.
type TaskRunStatus string

// Task run statuses persisted in task_runs.status. A run is "done" even when
// some of its conversions failed; per-URL outcomes live in the conversions
// table.
const (
	RunRunning TaskRunStatus = "running"
	RunDone    TaskRunStatus = "done"
)

// TaskRun models the task_runs table for API responses.
type TaskRun struct {
	// TaskID is the conversion task identifier shared with the registry.
	TaskID uuid.UUID
	// StartedAt captures when the task began converting.
	StartedAt time.Time
	// FinishedAt is nil until every occurrence has a result.
	FinishedAt *time.Time
	// Status is running/done.
	Status TaskRunStatus
	// Total is the occurrence count fixed at task creation.
	Total int
	// Succeeded/Failed/Skipped summarize terminal occurrence outcomes.
	Succeeded int
	Failed    int
	Skipped   int
}

// ConversionRecord is persisted for each completed URL occurrence.
type ConversionRecord struct {
	TaskID uuid.UUID
	// URL is the original remote URL.
	URL string
	// Site is the host label derived from URL.
	Site string
	// Status is success/failed/skipped.
	Status string
	// Bytes is the downloaded size (zero for failures and skips).
	Bytes int64
	// DurationMs is the wall time of the fetch/store/presign sequence.
	DurationMs int64
	// Error optionally stores the failure reason.
	Error *string
	// At is when the conversion finished.
	At time.Time
}

// AuditRepository persists incremental conversion progress.
type AuditRepository interface {
	// StartTaskRun inserts (or idempotently updates) the task run row.
	StartTaskRun(ctx context.Context, taskID uuid.UUID, startedAt time.Time, total int) error
	// CompleteTaskRun marks the run done with final outcome counts.
	CompleteTaskRun(ctx context.Context, taskID uuid.UUID, finishedAt time.Time, succeeded, failed, skipped int) error
	// RecordConversion appends one per-occurrence outcome row.
	RecordConversion(ctx context.Context, rec ConversionRecord) error

	// GetTaskRun loads a single task run or returns ErrNotFound.
	GetTaskRun(ctx context.Context, taskID uuid.UUID) (TaskRun, error)
	// ListTaskRuns returns runs filtered by optional status plus limit/offset.
	ListTaskRuns(ctx context.Context, status *TaskRunStatus, limit, offset int) ([]TaskRun, error)
	// ListConversions returns recorded conversions for one task.
	ListConversions(ctx context.Context, taskID uuid.UUID, limit, offset int) ([]ConversionRecord, error)
}
