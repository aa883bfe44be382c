package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nas2net/oss-relay/internal/store"
)

// stubAuditRepo returns canned audit rows.
type stubAuditRepo struct {
	runs        map[uuid.UUID]store.TaskRun
	conversions map[uuid.UUID][]store.ConversionRecord
	lastStatus  *store.TaskRunStatus
	lastLimit   int
	lastOffset  int
}

func newStubAuditRepo() *stubAuditRepo {
	return &stubAuditRepo{
		runs:        make(map[uuid.UUID]store.TaskRun),
		conversions: make(map[uuid.UUID][]store.ConversionRecord),
	}
}

func (s *stubAuditRepo) StartTaskRun(context.Context, uuid.UUID, time.Time, int) error {
	return nil
}

func (s *stubAuditRepo) CompleteTaskRun(context.Context, uuid.UUID, time.Time, int, int, int) error {
	return nil
}

func (s *stubAuditRepo) RecordConversion(context.Context, store.ConversionRecord) error {
	return nil
}

func (s *stubAuditRepo) GetTaskRun(_ context.Context, taskID uuid.UUID) (store.TaskRun, error) {
	run, ok := s.runs[taskID]
	if !ok {
		return store.TaskRun{}, store.ErrNotFound
	}
	return run, nil
}

func (s *stubAuditRepo) ListTaskRuns(_ context.Context, status *store.TaskRunStatus, limit, offset int) ([]store.TaskRun, error) {
	s.lastStatus = status
	s.lastLimit = limit
	s.lastOffset = offset
	var out []store.TaskRun
	for _, run := range s.runs {
		if status == nil || run.Status == *status {
			out = append(out, run)
		}
	}
	return out, nil
}

func (s *stubAuditRepo) ListConversions(_ context.Context, taskID uuid.UUID, _, _ int) ([]store.ConversionRecord, error) {
	return s.conversions[taskID], nil
}

func newAuditRouter(repo store.AuditRepository) http.Handler {
	h := NewAuditHandler(repo, nil)
	r := chi.NewRouter()
	r.Route("/v1/audit/tasks", func(r chi.Router) {
		r.Get("/", h.ListTasks)
		r.Route("/{task_id}", func(r chi.Router) {
			r.Get("/", h.GetTask)
			r.Get("/conversions", h.ListConversions)
		})
	})
	return r
}

func doGet(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestAuditEndpointsUnavailableWithoutRepo(t *testing.T) {
	t.Parallel()

	router := newAuditRouter(nil)
	for _, path := range []string{
		"/v1/audit/tasks",
		"/v1/audit/tasks/" + uuid.NewString(),
		"/v1/audit/tasks/" + uuid.NewString() + "/conversions",
	} {
		rec := doGet(t, router, path)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestListTasksFiltersAndPaginates(t *testing.T) {
	t.Parallel()

	repo := newStubAuditRepo()
	taskID := uuid.New()
	repo.runs[taskID] = store.TaskRun{
		TaskID:    taskID,
		StartedAt: time.Now().UTC(),
		Status:    store.RunRunning,
		Total:     2,
	}
	router := newAuditRouter(repo)

	rec := doGet(t, router, "/v1/audit/tasks?status=running&limit=5&offset=10")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, repo.lastStatus)
	require.Equal(t, store.RunRunning, *repo.lastStatus)
	require.Equal(t, 5, repo.lastLimit)
	require.Equal(t, 10, repo.lastOffset)

	var payload struct {
		Tasks []taskRunDTO `json:"tasks"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&payload))
	require.Len(t, payload.Tasks, 1)
	require.Equal(t, taskID.String(), payload.Tasks[0].TaskID)
	require.Equal(t, "running", payload.Tasks[0].Status)
}

func TestListTasksRejectsBadQuery(t *testing.T) {
	t.Parallel()

	router := newAuditRouter(newStubAuditRepo())
	require.Equal(t, http.StatusBadRequest, doGet(t, router, "/v1/audit/tasks?status=bogus").Code)
	require.Equal(t, http.StatusBadRequest, doGet(t, router, "/v1/audit/tasks?limit=-1").Code)
	require.Equal(t, http.StatusBadRequest, doGet(t, router, "/v1/audit/tasks?offset=x").Code)
}

func TestGetTaskByID(t *testing.T) {
	t.Parallel()

	repo := newStubAuditRepo()
	taskID := uuid.New()
	finished := time.Now().UTC()
	repo.runs[taskID] = store.TaskRun{
		TaskID:     taskID,
		StartedAt:  finished.Add(-time.Minute),
		FinishedAt: &finished,
		Status:     store.RunDone,
		Total:      3,
		Succeeded:  2,
		Failed:     1,
	}
	router := newAuditRouter(repo)

	rec := doGet(t, router, "/v1/audit/tasks/"+taskID.String())
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Task taskRunDTO `json:"task"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&payload))
	require.Equal(t, "done", payload.Task.Status)
	require.Equal(t, 2, payload.Task.Succeeded)

	require.Equal(t, http.StatusNotFound, doGet(t, router, "/v1/audit/tasks/"+uuid.NewString()).Code)
	require.Equal(t, http.StatusBadRequest, doGet(t, router, "/v1/audit/tasks/not-a-uuid").Code)
}

func TestListConversionsForTask(t *testing.T) {
	t.Parallel()

	repo := newStubAuditRepo()
	taskID := uuid.New()
	reason := "fetch returned 404"
	repo.conversions[taskID] = []store.ConversionRecord{
		{TaskID: taskID, URL: "https://example.com/a", Site: "example.com", Status: "success", Bytes: 9, At: time.Now().UTC()},
		{TaskID: taskID, URL: "https://example.com/b", Site: "example.com", Status: "failed", Error: &reason, At: time.Now().UTC()},
	}
	router := newAuditRouter(repo)

	rec := doGet(t, router, "/v1/audit/tasks/"+taskID.String()+"/conversions")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Conversions []conversionDTO `json:"conversions"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&payload))
	require.Len(t, payload.Conversions, 2)
	require.Equal(t, "success", payload.Conversions[0].Status)
	require.NotNil(t, payload.Conversions[1].Error)
	require.Equal(t, reason, *payload.Conversions[1].Error)
}
