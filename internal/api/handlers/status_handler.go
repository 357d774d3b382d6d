// internal/api/handlers/status_handler.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/astercc518/outreachd/internal/models"
)

// SystemStore aggregates task counts for the status endpoint. Satisfied
// by *postgres.Client.
type SystemStore interface {
	GetSystemState(ctx context.Context) (*models.SystemState, error)
}

type StatusHandler struct {
	db SystemStore
}

func NewStatusHandler(db SystemStore) *StatusHandler {
	return &StatusHandler{
		db: db,
	}
}

func (h *StatusHandler) GetSystemStatus(w http.ResponseWriter, r *http.Request) {
	state, err := h.db.GetSystemState(r.Context())
	if err != nil {
		http.Error(w, "failed to get system status", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(state)
}
