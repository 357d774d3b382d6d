// internal/api/handlers/task_handler.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/astercc518/outreachd/internal/engine"
	"github.com/astercc518/outreachd/internal/models"
	"github.com/astercc518/outreachd/internal/task"
	"github.com/go-chi/chi/v5"
)

const (
	defaultLogPageSize = 50
	maxLogPageSize     = 200
)

// TaskEngine is the control surface the handler drives. Satisfied by
// *engine.Engine.
type TaskEngine interface {
	CreateTask(ctx context.Context, t *models.Task) error
	StartTask(ctx context.Context, id string) error
	PauseTask(ctx context.Context, id string) error
	CancelTask(ctx context.Context, id string) error
	DeleteTask(ctx context.Context, id string) error
	TaskSnapshot(ctx context.Context, id string) (*models.Task, error)
}

// TaskStore is the read side the handler lists tasks and logs from.
// Satisfied by *postgres.Client.
type TaskStore interface {
	ListTasks(ctx context.Context) ([]*models.Task, error)
	ListExecutionLogs(ctx context.Context, taskID string, limit, offset int) ([]*models.ExecutionLog, error)
	CountExecutionLogs(ctx context.Context, taskID string) (int, error)
}

type TaskHandler struct {
	engine TaskEngine
	db     TaskStore
}

func NewTaskHandler(engine TaskEngine, db TaskStore) *TaskHandler {
	return &TaskHandler{
		engine: engine,
		db:     db,
	}
}

type createTaskRequest struct {
	Name             string            `json:"name"`
	DestinationGroup string            `json:"destinationGroup"`
	Delegates        []string          `json:"delegates"`
	DelegateGroup    string            `json:"delegateGroup"`
	Filter           models.Filter     `json:"filter"`
	Policy           models.TaskPolicy `json:"policy"`
}

func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	t := models.NewTask(req.Name, req.DestinationGroup, req.Filter, req.Policy)
	t.Delegates = req.Delegates
	t.DelegateGroup = req.DelegateGroup

	if err := t.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.engine.CreateTask(r.Context(), t); err != nil {
		if errors.Is(err, engine.ErrEmptySelection) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		http.Error(w, "failed to create task", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(t)
}

func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.db.ListTasks(r.Context())
	if err != nil {
		http.Error(w, "failed to list tasks", http.StatusInternalServerError)
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}

	json.NewEncoder(w).Encode(tasks)
}

func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")

	t, err := h.engine.TaskSnapshot(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, engine.ErrTaskNotFound) {
			http.Error(w, "task not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load task", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(t)
}

func (h *TaskHandler) GetTaskLogs(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")

	if _, err := h.engine.TaskSnapshot(r.Context(), taskID); err != nil {
		if errors.Is(err, engine.ErrTaskNotFound) {
			http.Error(w, "task not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load task", http.StatusInternalServerError)
		return
	}

	limit := queryInt(r, "limit", defaultLogPageSize)
	if limit <= 0 || limit > maxLogPageSize {
		limit = defaultLogPageSize
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	logs, err := h.db.ListExecutionLogs(r.Context(), taskID, limit, offset)
	if err != nil {
		http.Error(w, "failed to list logs", http.StatusInternalServerError)
		return
	}
	total, err := h.db.CountExecutionLogs(r.Context(), taskID)
	if err != nil {
		http.Error(w, "failed to count logs", http.StatusInternalServerError)
		return
	}
	if logs == nil {
		logs = []*models.ExecutionLog{}
	}

	response := struct {
		TaskID string                 `json:"taskId"`
		Total  int                    `json:"total"`
		Limit  int                    `json:"limit"`
		Offset int                    `json:"offset"`
		Logs   []*models.ExecutionLog `json:"logs"`
	}{
		TaskID: taskID,
		Total:  total,
		Limit:  limit,
		Offset: offset,
		Logs:   logs,
	}

	json.NewEncoder(w).Encode(response)
}

// PatchTaskStatus starts or pauses a task. Terminal statuses cannot be
// requested here; the engine owns those transitions.
func (h *TaskHandler) PatchTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	status, err := models.ParseTaskStatus(req.Status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch status {
	case models.TaskStatusRunning:
		err = h.engine.StartTask(r.Context(), taskID)
	case models.TaskStatusPaused:
		err = h.engine.PauseTask(r.Context(), taskID)
	}
	if err != nil {
		writeControlError(w, err)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{
		"message": "Task status updated",
		"id":      taskID,
		"status":  string(status),
	})
}

func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")

	if err := h.engine.CancelTask(r.Context(), taskID); err != nil {
		writeControlError(w, err)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{
		"message": "Task cancelled",
		"id":      taskID,
	})
}

func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")

	if err := h.engine.DeleteTask(r.Context(), taskID); err != nil {
		if errors.Is(err, engine.ErrTaskRunning) {
			http.Error(w, "task is running, pause or cancel it first", http.StatusConflict)
			return
		}
		if errors.Is(err, engine.ErrTaskNotFound) {
			http.Error(w, "task not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to delete task", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{
		"message": "Task deleted",
		"id":      taskID,
	})
}

// writeControlError maps lifecycle errors onto HTTP statuses. Invalid
// transitions are conflicts, not bad requests: the request was well
// formed, the task just is not in the right state.
func writeControlError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrTaskNotFound):
		http.Error(w, "task not found", http.StatusNotFound)
	case errors.Is(err, task.ErrTerminal), errors.Is(err, task.ErrNotRunning), errors.Is(err, task.ErrNotPaused):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, "failed to update task", http.StatusInternalServerError)
	}
}

func queryInt(r *http.Request, key string, defaultValue int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return v
}
