// internal/api/handlers/handlers_test.go
package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/astercc518/outreachd/internal/api/handlers"
	"github.com/astercc518/outreachd/internal/engine"
	"github.com/astercc518/outreachd/internal/models"
	"github.com/astercc518/outreachd/internal/task"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine scripts the control surface without running any loops.
type fakeEngine struct {
	mu           sync.Mutex
	tasks        map[string]*models.Task
	createErr    error
	controlErr   error
	started      []string
	paused       []string
	cancelled    []string
	deleted      []string
	previewOut   []string
	previewErr   error
	previewCalls int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{tasks: make(map[string]*models.Task)}
}

func (f *fakeEngine) CreateTask(_ context.Context, t *models.Task) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[t.ID] = t
	return nil
}

func (f *fakeEngine) StartTask(_ context.Context, id string) error {
	if f.controlErr != nil {
		return f.controlErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[id]; !ok {
		return engine.ErrTaskNotFound
	}
	f.started = append(f.started, id)
	return nil
}

func (f *fakeEngine) PauseTask(_ context.Context, id string) error {
	if f.controlErr != nil {
		return f.controlErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[id]; !ok {
		return engine.ErrTaskNotFound
	}
	f.paused = append(f.paused, id)
	return nil
}

func (f *fakeEngine) CancelTask(_ context.Context, id string) error {
	if f.controlErr != nil {
		return f.controlErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[id]; !ok {
		return engine.ErrTaskNotFound
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeEngine) DeleteTask(_ context.Context, id string) error {
	if f.controlErr != nil {
		return f.controlErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[id]; !ok {
		return engine.ErrTaskNotFound
	}
	f.deleted = append(f.deleted, id)
	delete(f.tasks, id)
	return nil
}

func (f *fakeEngine) TaskSnapshot(_ context.Context, id string) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, engine.ErrTaskNotFound
	}
	return t, nil
}

func (f *fakeEngine) Preview(_ context.Context, _ string, _ models.Filter, _ models.TaskPolicy) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.previewCalls++
	return f.previewOut, f.previewErr
}

// fakeStore serves list and log reads in memory.
type fakeStore struct {
	tasks []*models.Task
	logs  []*models.ExecutionLog
}

func (f *fakeStore) ListTasks(_ context.Context) ([]*models.Task, error) {
	return f.tasks, nil
}

func (f *fakeStore) ListExecutionLogs(_ context.Context, taskID string, limit, offset int) ([]*models.ExecutionLog, error) {
	var out []*models.ExecutionLog
	for _, l := range f.logs {
		if l.TaskID == taskID {
			out = append(out, l)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) CountExecutionLogs(_ context.Context, taskID string) (int, error) {
	n := 0
	for _, l := range f.logs {
		if l.TaskID == taskID {
			n++
		}
	}
	return n, nil
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]byte)}
}

func (f *fakeCache) Get(key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries[key], nil
}

func (f *fakeCache) Put(key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = value
	return nil
}

func newTestRouter(eng *fakeEngine, store *fakeStore, cache *fakeCache) *chi.Mux {
	taskHandler := handlers.NewTaskHandler(eng, store)
	previewHandler := handlers.NewPreviewHandler(eng, cache)

	r := chi.NewRouter()
	r.Route("/api/v1/tasks", func(r chi.Router) {
		r.Post("/", taskHandler.CreateTask)
		r.Get("/", taskHandler.ListTasks)
		r.Post("/preview", previewHandler.PreviewSelection)
		r.Get("/{id}", taskHandler.GetTask)
		r.Get("/{id}/logs", taskHandler.GetTaskLogs)
		r.Patch("/{id}/status", taskHandler.PatchTaskStatus)
		r.Post("/{id}/cancel", taskHandler.CancelTask)
		r.Delete("/{id}", taskHandler.DeleteTask)
	})
	return r
}

func validCreateBody() map[string]interface{} {
	return map[string]interface{}{
		"name":             "q3-campaign",
		"destinationGroup": "dest-group",
		"delegates":        []string{"d1", "d2"},
		"filter":           map[string]interface{}{"minScore": 10},
		"policy": map[string]interface{}{
			"minDelaySeconds": 1,
			"maxDelaySeconds": 2,
			"maxPerDelegate":  50,
			"maxTargets":      100,
		},
	}
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateTaskReturnsPendingTask(t *testing.T) {
	eng := newFakeEngine()
	router := newTestRouter(eng, &fakeStore{}, newFakeCache())

	rec := doJSON(t, router, http.MethodPost, "/api/v1/tasks/", validCreateBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	var created models.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, models.TaskStatusPending, created.Status)
	assert.Equal(t, "dest-group", created.DestinationGroup)
	assert.Contains(t, eng.tasks, created.ID)
}

func TestCreateTaskRejectsInvalidPolicy(t *testing.T) {
	eng := newFakeEngine()
	router := newTestRouter(eng, &fakeStore{}, newFakeCache())

	body := validCreateBody()
	body["policy"].(map[string]interface{})["minDelaySeconds"] = 10
	body["policy"].(map[string]interface{})["maxDelaySeconds"] = 5

	rec := doJSON(t, router, http.MethodPost, "/api/v1/tasks/", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, eng.tasks)
}

func TestCreateTaskEmptySelectionIsUnprocessable(t *testing.T) {
	eng := newFakeEngine()
	eng.createErr = engine.ErrEmptySelection
	router := newTestRouter(eng, &fakeStore{}, newFakeCache())

	rec := doJSON(t, router, http.MethodPost, "/api/v1/tasks/", validCreateBody())
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestListTasksEmptyIsJSONArray(t *testing.T) {
	router := newTestRouter(newFakeEngine(), &fakeStore{}, newFakeCache())

	rec := doJSON(t, router, http.MethodGet, "/api/v1/tasks/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestGetTaskNotFound(t *testing.T) {
	router := newTestRouter(newFakeEngine(), &fakeStore{}, newFakeCache())

	rec := doJSON(t, router, http.MethodGet, "/api/v1/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTaskReturnsSnapshot(t *testing.T) {
	eng := newFakeEngine()
	existing := models.NewTask("run", "dest", models.Filter{}, models.TaskPolicy{})
	eng.tasks[existing.ID] = existing
	router := newTestRouter(eng, &fakeStore{}, newFakeCache())

	rec := doJSON(t, router, http.MethodGet, "/api/v1/tasks/"+existing.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, existing.ID, got.ID)
}

func TestGetTaskLogsPaginates(t *testing.T) {
	eng := newFakeEngine()
	existing := models.NewTask("run", "dest", models.Filter{}, models.TaskPolicy{})
	eng.tasks[existing.ID] = existing

	store := &fakeStore{}
	for i := 0; i < 7; i++ {
		store.logs = append(store.logs,
			models.NewExecutionLog(existing.ID, "d1", fmt.Sprintf("t%d", i), models.OutcomeSuccess))
	}
	router := newTestRouter(eng, store, newFakeCache())

	rec := doJSON(t, router, http.MethodGet, "/api/v1/tasks/"+existing.ID+"/logs?limit=3&offset=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var page struct {
		Total  int                    `json:"total"`
		Limit  int                    `json:"limit"`
		Offset int                    `json:"offset"`
		Logs   []*models.ExecutionLog `json:"logs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 7, page.Total)
	assert.Equal(t, 3, page.Limit)
	assert.Equal(t, 5, page.Offset)
	assert.Len(t, page.Logs, 2)
}

func TestGetTaskLogsUnknownTask(t *testing.T) {
	router := newTestRouter(newFakeEngine(), &fakeStore{}, newFakeCache())

	rec := doJSON(t, router, http.MethodGet, "/api/v1/tasks/missing/logs", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPatchStatusStartsTask(t *testing.T) {
	eng := newFakeEngine()
	existing := models.NewTask("run", "dest", models.Filter{}, models.TaskPolicy{})
	eng.tasks[existing.ID] = existing
	router := newTestRouter(eng, &fakeStore{}, newFakeCache())

	rec := doJSON(t, router, http.MethodPatch, "/api/v1/tasks/"+existing.ID+"/status",
		map[string]string{"status": "running"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{existing.ID}, eng.started)
}

func TestPatchStatusPausesTask(t *testing.T) {
	eng := newFakeEngine()
	existing := models.NewTask("run", "dest", models.Filter{}, models.TaskPolicy{})
	eng.tasks[existing.ID] = existing
	router := newTestRouter(eng, &fakeStore{}, newFakeCache())

	rec := doJSON(t, router, http.MethodPatch, "/api/v1/tasks/"+existing.ID+"/status",
		map[string]string{"status": "PAUSED"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{existing.ID}, eng.paused)
}

func TestPatchStatusRejectsTerminalTarget(t *testing.T) {
	router := newTestRouter(newFakeEngine(), &fakeStore{}, newFakeCache())

	rec := doJSON(t, router, http.MethodPatch, "/api/v1/tasks/any/status",
		map[string]string{"status": "COMPLETED"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPatchStatusInvalidTransitionIsConflict(t *testing.T) {
	eng := newFakeEngine()
	eng.controlErr = task.ErrTerminal
	router := newTestRouter(eng, &fakeStore{}, newFakeCache())

	rec := doJSON(t, router, http.MethodPatch, "/api/v1/tasks/any/status",
		map[string]string{"status": "running"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPatchStatusUnknownTask(t *testing.T) {
	router := newTestRouter(newFakeEngine(), &fakeStore{}, newFakeCache())

	rec := doJSON(t, router, http.MethodPatch, "/api/v1/tasks/missing/status",
		map[string]string{"status": "running"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelTask(t *testing.T) {
	eng := newFakeEngine()
	existing := models.NewTask("run", "dest", models.Filter{}, models.TaskPolicy{})
	eng.tasks[existing.ID] = existing
	router := newTestRouter(eng, &fakeStore{}, newFakeCache())

	rec := doJSON(t, router, http.MethodPost, "/api/v1/tasks/"+existing.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{existing.ID}, eng.cancelled)
}

func TestDeleteRunningTaskIsConflict(t *testing.T) {
	eng := newFakeEngine()
	eng.controlErr = engine.ErrTaskRunning
	router := newTestRouter(eng, &fakeStore{}, newFakeCache())

	rec := doJSON(t, router, http.MethodDelete, "/api/v1/tasks/any", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDeleteTask(t *testing.T) {
	eng := newFakeEngine()
	existing := models.NewTask("run", "dest", models.Filter{}, models.TaskPolicy{})
	eng.tasks[existing.ID] = existing
	router := newTestRouter(eng, &fakeStore{}, newFakeCache())

	rec := doJSON(t, router, http.MethodDelete, "/api/v1/tasks/"+existing.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{existing.ID}, eng.deleted)
}

func previewBody() map[string]interface{} {
	return map[string]interface{}{
		"destinationGroup": "dest-group",
		"filter":           map[string]interface{}{"minScore": 20},
		"policy": map[string]interface{}{
			"maxDelaySeconds": 2,
			"maxPerDelegate":  50,
			"maxTargets":      100,
		},
	}
}

func TestPreviewReturnsSelection(t *testing.T) {
	eng := newFakeEngine()
	eng.previewOut = []string{"t1", "t2", "t3"}
	router := newTestRouter(eng, &fakeStore{}, newFakeCache())

	rec := doJSON(t, router, http.MethodPost, "/api/v1/tasks/preview", previewBody())
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count   int      `json:"count"`
		Targets []string `json:"targets"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Count)
	assert.Equal(t, []string{"t1", "t2", "t3"}, resp.Targets)
}

func TestPreviewIdenticalRequestHitsCache(t *testing.T) {
	eng := newFakeEngine()
	eng.previewOut = []string{"t1"}
	router := newTestRouter(eng, &fakeStore{}, newFakeCache())

	first := doJSON(t, router, http.MethodPost, "/api/v1/tasks/preview", previewBody())
	second := doJSON(t, router, http.MethodPost, "/api/v1/tasks/preview", previewBody())

	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, eng.previewCalls)
}

func TestPreviewDifferentFilterMissesCache(t *testing.T) {
	eng := newFakeEngine()
	eng.previewOut = []string{"t1"}
	router := newTestRouter(eng, &fakeStore{}, newFakeCache())

	doJSON(t, router, http.MethodPost, "/api/v1/tasks/preview", previewBody())

	body := previewBody()
	body["filter"].(map[string]interface{})["minScore"] = 90
	doJSON(t, router, http.MethodPost, "/api/v1/tasks/preview", body)

	assert.Equal(t, 2, eng.previewCalls)
}

func TestPreviewRejectsInvalidPolicy(t *testing.T) {
	eng := newFakeEngine()
	router := newTestRouter(eng, &fakeStore{}, newFakeCache())

	body := previewBody()
	body["policy"].(map[string]interface{})["maxTargets"] = 0

	rec := doJSON(t, router, http.MethodPost, "/api/v1/tasks/preview", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, eng.previewCalls)
}

// delegate and status handlers

type fakeDelegateStore struct {
	delegates []models.DelegateAccount
}

func (f *fakeDelegateStore) ListDelegates(_ context.Context) ([]models.DelegateAccount, error) {
	return f.delegates, nil
}

type fakeBanControl struct {
	banned   []string
	unbanned []string
	err      error
}

func (f *fakeBanControl) MarkBanned(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.banned = append(f.banned, id)
	return nil
}

func (f *fakeBanControl) Unban(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.unbanned = append(f.unbanned, id)
	return nil
}

func newDelegateRouter(store *fakeDelegateStore, ctrl *fakeBanControl) *chi.Mux {
	h := handlers.NewDelegateHandler(store, ctrl)
	r := chi.NewRouter()
	r.Get("/api/v1/delegates/", h.ListDelegates)
	r.Post("/api/v1/delegates/{id}/ban", h.BanDelegate)
	r.Post("/api/v1/delegates/{id}/unban", h.UnbanDelegate)
	return r
}

func TestListDelegatesIncludesUsage(t *testing.T) {
	store := &fakeDelegateStore{delegates: []models.DelegateAccount{
		{ID: "d1", Group: "pool-a", UsedToday: 12},
		{ID: "d2", Group: "pool-a", Banned: true},
	}}
	router := newDelegateRouter(store, &fakeBanControl{})

	rec := doJSON(t, router, http.MethodGet, "/api/v1/delegates/", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got []models.DelegateAccount
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, 12, got[0].UsedToday)
	assert.True(t, got[1].Banned)
}

func TestBanAndUnbanDelegate(t *testing.T) {
	ctrl := &fakeBanControl{}
	router := newDelegateRouter(&fakeDelegateStore{}, ctrl)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/delegates/d1/ban", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/v1/delegates/d1/unban", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []string{"d1"}, ctrl.banned)
	assert.Equal(t, []string{"d1"}, ctrl.unbanned)
}

type fakeSystemStore struct {
	state *models.SystemState
	err   error
}

func (f *fakeSystemStore) GetSystemState(_ context.Context) (*models.SystemState, error) {
	return f.state, f.err
}

func TestSystemStatus(t *testing.T) {
	h := handlers.NewStatusHandler(&fakeSystemStore{state: &models.SystemState{
		RunningTasks: 2,
		PausedTasks:  1,
		TotalTasks:   9,
	}})
	r := chi.NewRouter()
	r.Get("/api/v1/system/status", h.GetSystemStatus)

	rec := doJSON(t, r, http.MethodGet, "/api/v1/system/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var state models.SystemState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, 2, state.RunningTasks)
	assert.Equal(t, 9, state.TotalTasks)
}

func TestSystemStatusStoreFailure(t *testing.T) {
	h := handlers.NewStatusHandler(&fakeSystemStore{err: errors.New("db down")})
	r := chi.NewRouter()
	r.Get("/api/v1/system/status", h.GetSystemStatus)

	rec := doJSON(t, r, http.MethodGet, "/api/v1/system/status", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
