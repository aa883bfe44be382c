package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nas2net/oss-relay/internal/progress"
	"github.com/nas2net/oss-relay/internal/store"
)

// StoreSink persists the conversion audit trail via a store.AuditRepository.
type StoreSink struct {
	repo   store.AuditRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.AuditRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards each event to the repository in batch order. It respects
// ctx deadlines and returns repository errors verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for _, evt := range batch {
		taskID := evt.TaskUUID()
		switch evt.Stage {
		case progress.StageTaskStart:
			if err := s.repo.StartTaskRun(ctx, taskID, evt.TS, evt.Total); err != nil {
				return fmt.Errorf("start task run: %w", err)
			}
		case progress.StageTaskDone:
			if err := s.repo.CompleteTaskRun(ctx, taskID, evt.TS, evt.Succeeded, evt.Failed, evt.Skipped); err != nil {
				return fmt.Errorf("complete task run: %w", err)
			}
		case progress.StageConvertDone:
			rec := store.ConversionRecord{
				TaskID:     taskID,
				URL:        evt.URL,
				Site:       evt.Site,
				Status:     string(evt.Status),
				Bytes:      evt.Bytes,
				DurationMs: evt.Dur.Milliseconds(),
				At:         evt.TS,
			}
			if evt.Note != "" {
				note := evt.Note
				rec.Error = &note
			}
			if err := s.repo.RecordConversion(ctx, rec); err != nil {
				return fmt.Errorf("record conversion: %w", err)
			}
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
