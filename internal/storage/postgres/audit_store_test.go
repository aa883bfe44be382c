package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/nas2net/oss-relay/internal/store"
)

func TestStartTaskRunInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewAuditStoreWithPool(mock)
	require.NoError(t, err)

	taskID := uuid.New()
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("INSERT INTO task_runs").
		WithArgs(taskID, now, store.RunRunning, 3).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.StartTaskRun(context.Background(), taskID, now, 3))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteTaskRunUpdatesCounts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewAuditStoreWithPool(mock)
	require.NoError(t, err)

	taskID := uuid.New()
	now := time.Unix(1700000500, 0).UTC()

	mock.ExpectExec("UPDATE task_runs").
		WithArgs(now, store.RunDone, 2, 1, 0, taskID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.CompleteTaskRun(context.Background(), taskID, now, 2, 1, 0))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordConversionInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewAuditStoreWithPool(mock)
	require.NoError(t, err)

	taskID := uuid.New()
	now := time.Unix(1700000100, 0).UTC()
	reason := "fetch returned 503"

	rec := store.ConversionRecord{
		TaskID:     taskID,
		URL:        "https://example.com/a.png",
		Site:       "example.com",
		Status:     "failed",
		Bytes:      0,
		DurationMs: 84,
		Error:      &reason,
		At:         now,
	}

	mock.ExpectExec("INSERT INTO conversions").
		WithArgs(rec.TaskID, rec.URL, rec.Site, rec.Status, rec.Bytes, rec.DurationMs, rec.Error, rec.At).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.RecordConversion(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTaskRunNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewAuditStoreWithPool(mock)
	require.NoError(t, err)

	taskID := uuid.New()
	mock.ExpectQuery("SELECT task_id, started_at, finished_at, status").
		WithArgs(taskID).
		WillReturnRows(pgxmock.NewRows([]string{
			"task_id", "started_at", "finished_at", "status", "total", "succeeded", "failed", "skipped",
		}))

	_, err = s.GetTaskRun(context.Background(), taskID)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTaskRunScansRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewAuditStoreWithPool(mock)
	require.NoError(t, err)

	taskID := uuid.New()
	started := time.Unix(1700000000, 0).UTC()
	finished := started.Add(42 * time.Second)

	mock.ExpectQuery("SELECT task_id, started_at, finished_at, status").
		WithArgs(taskID).
		WillReturnRows(pgxmock.NewRows([]string{
			"task_id", "started_at", "finished_at", "status", "total", "succeeded", "failed", "skipped",
		}).AddRow(taskID, started, &finished, store.RunDone, 4, 3, 1, 0))

	run, err := s.GetTaskRun(context.Background(), taskID)
	require.NoError(t, err)
	require.Equal(t, taskID, run.TaskID)
	require.Equal(t, store.RunDone, run.Status)
	require.Equal(t, 4, run.Total)
	require.Equal(t, 3, run.Succeeded)
	require.Equal(t, 1, run.Failed)
	require.NotNil(t, run.FinishedAt)
	require.Equal(t, finished, *run.FinishedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListTaskRunsFiltersByStatus(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewAuditStoreWithPool(mock)
	require.NoError(t, err)

	taskID := uuid.New()
	started := time.Unix(1700000000, 0).UTC()
	running := store.RunRunning

	mock.ExpectQuery("SELECT task_id, started_at, finished_at, status").
		WithArgs(&running, 10, 0).
		WillReturnRows(pgxmock.NewRows([]string{
			"task_id", "started_at", "finished_at", "status", "total", "succeeded", "failed", "skipped",
		}).AddRow(taskID, started, (*time.Time)(nil), store.RunRunning, 2, 0, 0, 0))

	runs, err := s.ListTaskRuns(context.Background(), &running, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, store.RunRunning, runs[0].Status)
	require.Nil(t, runs[0].FinishedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListConversionsReturnsRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewAuditStoreWithPool(mock)
	require.NoError(t, err)

	taskID := uuid.New()
	at := time.Unix(1700000200, 0).UTC()

	mock.ExpectQuery("SELECT task_id, url, site, status").
		WithArgs(taskID, 50, 0).
		WillReturnRows(pgxmock.NewRows([]string{
			"task_id", "url", "site", "status", "bytes", "duration_ms", "error_message", "at",
		}).
			AddRow(taskID, "https://example.com/a.png", "example.com", "success", int64(2048), int64(120), (*string)(nil), at).
			AddRow(taskID, "https://example.com/b.png", "example.com", "skipped", int64(0), int64(0), (*string)(nil), at))

	recs, err := s.ListConversions(context.Background(), taskID, 50, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "success", recs[0].Status)
	require.Equal(t, int64(2048), recs[0].Bytes)
	require.Equal(t, "skipped", recs[1].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewAuditStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewAuditStore(context.Background(), Config{})
	require.Error(t, err)
}
