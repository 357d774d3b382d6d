// internal/api/handlers/delegate_handler.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/astercc518/outreachd/internal/models"
	"github.com/astercc518/outreachd/internal/storage/postgres"
	"github.com/go-chi/chi/v5"
)

// DelegateStore lists the delegate pool with usage. Satisfied by
// *postgres.Client.
type DelegateStore interface {
	ListDelegates(ctx context.Context) ([]models.DelegateAccount, error)
}

// BanControl flips a delegate's global ban flag. Going through the
// allocator rather than the store keeps running loops consistent with
// the registry. Satisfied by *delegate.Allocator.
type BanControl interface {
	MarkBanned(ctx context.Context, id string) error
	Unban(ctx context.Context, id string) error
}

type DelegateHandler struct {
	db        DelegateStore
	allocator BanControl
}

func NewDelegateHandler(db DelegateStore, allocator BanControl) *DelegateHandler {
	return &DelegateHandler{
		db:        db,
		allocator: allocator,
	}
}

func (h *DelegateHandler) ListDelegates(w http.ResponseWriter, r *http.Request) {
	delegates, err := h.db.ListDelegates(r.Context())
	if err != nil {
		http.Error(w, "failed to list delegates", http.StatusInternalServerError)
		return
	}
	if delegates == nil {
		delegates = []models.DelegateAccount{}
	}

	json.NewEncoder(w).Encode(delegates)
}

func (h *DelegateHandler) BanDelegate(w http.ResponseWriter, r *http.Request) {
	delegateID := chi.URLParam(r, "id")

	if err := h.allocator.MarkBanned(r.Context(), delegateID); err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			http.Error(w, "delegate not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to ban delegate", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{
		"message": "Delegate banned",
		"id":      delegateID,
	})
}

func (h *DelegateHandler) UnbanDelegate(w http.ResponseWriter, r *http.Request) {
	delegateID := chi.URLParam(r, "id")

	if err := h.allocator.Unban(r.Context(), delegateID); err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			http.Error(w, "delegate not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to unban delegate", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{
		"message": "Delegate unbanned",
		"id":      delegateID,
	})
}
