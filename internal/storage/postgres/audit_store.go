// Package postgres provides the Postgres-backed audit repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nas2net/oss-relay/internal/store"
)

// Config controls the Postgres connection pool used for audit rows.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// AuditStore persists task runs and per-URL conversion outcomes.
type AuditStore struct {
	pool pool
}

// NewAuditStore connects to Postgres using the provided config.
func NewAuditStore(ctx context.Context, cfg Config) (*AuditStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &AuditStore{pool: p}, nil
}

// NewAuditStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewAuditStoreWithPool(p pool) (*AuditStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &AuditStore{pool: p}, nil
}

// Close closes the underlying connection pool.
func (s *AuditStore) Close() {
	s.pool.Close()
}

// StartTaskRun inserts the task run row; replays of the same start are no-ops.
func (s *AuditStore) StartTaskRun(ctx context.Context, taskID uuid.UUID, startedAt time.Time, total int) error {
	query := `
		INSERT INTO task_runs (task_id, started_at, status, total, succeeded, failed, skipped)
		VALUES ($1, $2, $3, $4, 0, 0, 0)
		ON CONFLICT (task_id) DO NOTHING;
	`
	_, err := s.pool.Exec(ctx, query, taskID, startedAt, store.RunRunning, total)
	if err != nil {
		return fmt.Errorf("failed to start task run: %w", err)
	}
	return nil
}

// CompleteTaskRun marks the run done with final outcome counts.
func (s *AuditStore) CompleteTaskRun(
	ctx context.Context,
	taskID uuid.UUID,
	finishedAt time.Time,
	succeeded, failed, skipped int,
) error {
	query := `
		UPDATE task_runs
		SET finished_at = $1, status = $2, succeeded = $3, failed = $4, skipped = $5
		WHERE task_id = $6;
	`
	_, err := s.pool.Exec(ctx, query, finishedAt, store.RunDone, succeeded, failed, skipped, taskID)
	if err != nil {
		return fmt.Errorf("failed to complete task run: %w", err)
	}
	return nil
}

// RecordConversion appends one per-occurrence outcome row.
func (s *AuditStore) RecordConversion(ctx context.Context, rec store.ConversionRecord) error {
	query := `
		INSERT INTO conversions (task_id, url, site, status, bytes, duration_ms, error_message, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`
	_, err := s.pool.Exec(
		ctx,
		query,
		rec.TaskID,
		rec.URL,
		rec.Site,
		rec.Status,
		rec.Bytes,
		rec.DurationMs,
		rec.Error,
		rec.At,
	)
	if err != nil {
		return fmt.Errorf("failed to record conversion: %w", err)
	}
	return nil
}

// GetTaskRun loads a single task run by its ID.
func (s *AuditStore) GetTaskRun(ctx context.Context, taskID uuid.UUID) (store.TaskRun, error) {
	query := `
		SELECT task_id, started_at, finished_at, status, total, succeeded, failed, skipped
		FROM task_runs
		WHERE task_id = $1;
	`
	var run store.TaskRun
	err := s.pool.QueryRow(ctx, query, taskID).Scan(
		&run.TaskID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.Total,
		&run.Succeeded,
		&run.Failed,
		&run.Skipped,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.TaskRun{}, store.ErrNotFound
		}
		return store.TaskRun{}, fmt.Errorf("failed to get task run: %w", err)
	}
	return run, nil
}

// ListTaskRuns retrieves task runs, newest first, with optional status filtering.
func (s *AuditStore) ListTaskRuns(
	ctx context.Context,
	status *store.TaskRunStatus,
	limit,
	offset int,
) ([]store.TaskRun, error) {
	query := `
		SELECT task_id, started_at, finished_at, status, total, succeeded, failed, skipped
		FROM task_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list task runs: %w", err)
	}
	defer rows.Close()

	var runs []store.TaskRun
	for rows.Next() {
		var run store.TaskRun
		err := rows.Scan(
			&run.TaskID,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Status,
			&run.Total,
			&run.Succeeded,
			&run.Failed,
			&run.Skipped,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task run row: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListConversions retrieves recorded conversions for a task, oldest first.
func (s *AuditStore) ListConversions(
	ctx context.Context,
	taskID uuid.UUID,
	limit,
	offset int,
) ([]store.ConversionRecord, error) {
	query := `
		SELECT task_id, url, site, status, bytes, duration_ms, error_message, at
		FROM conversions
		WHERE task_id = $1
		ORDER BY at ASC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, taskID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversions: %w", err)
	}
	defer rows.Close()

	var recs []store.ConversionRecord
	for rows.Next() {
		var rec store.ConversionRecord
		err := rows.Scan(
			&rec.TaskID,
			&rec.URL,
			&rec.Site,
			&rec.Status,
			&rec.Bytes,
			&rec.DurationMs,
			&rec.Error,
			&rec.At,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversion row: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
