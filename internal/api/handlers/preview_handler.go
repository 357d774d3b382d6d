// internal/api/handlers/preview_handler.go
package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"

	"github.com/astercc518/outreachd/internal/models"
)

// Previewer runs the candidate filter without creating a task.
// Satisfied by *engine.Engine.
type Previewer interface {
	Preview(ctx context.Context, destinationGroup string, f models.Filter, policy models.TaskPolicy) ([]string, error)
}

// PreviewCache stores rendered preview responses keyed by request
// fingerprint. Satisfied by *leveldb.Client; Get returns nil on a miss.
type PreviewCache interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
}

type PreviewHandler struct {
	engine Previewer
	cache  PreviewCache
}

func NewPreviewHandler(engine Previewer, cache PreviewCache) *PreviewHandler {
	return &PreviewHandler{
		engine: engine,
		cache:  cache,
	}
}

type previewRequest struct {
	DestinationGroup string            `json:"destinationGroup"`
	Filter           models.Filter     `json:"filter"`
	Policy           models.TaskPolicy `json:"policy"`
}

type previewResponse struct {
	DestinationGroup string   `json:"destinationGroup"`
	Count            int      `json:"count"`
	Targets          []string `json:"targets"`
}

// PreviewSelection answers "who would this task reach" without side
// effects. Identical requests within the cache TTL are served from the
// cache; the snapshot may be up to that much out of date.
func (h *PreviewHandler) PreviewSelection(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.DestinationGroup == "" {
		http.Error(w, "destination group is required", http.StatusBadRequest)
		return
	}
	if err := req.Policy.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	key := previewCacheKey(&req)
	if cached, err := h.cache.Get(key); err == nil && cached != nil {
		w.Write(cached)
		return
	}

	targets, err := h.engine.Preview(r.Context(), req.DestinationGroup, req.Filter, req.Policy)
	if err != nil {
		http.Error(w, "failed to preview selection", http.StatusInternalServerError)
		return
	}
	if targets == nil {
		targets = []string{}
	}

	body, err := json.Marshal(previewResponse{
		DestinationGroup: req.DestinationGroup,
		Count:            len(targets),
		Targets:          targets,
	})
	if err != nil {
		http.Error(w, "failed to encode preview", http.StatusInternalServerError)
		return
	}

	if err := h.cache.Put(key, body); err != nil {
		log.Printf("Warning: failed to cache preview: %v", err)
	}

	w.Write(body)
}

// previewCacheKey fingerprints the full request so any change to the
// filter or policy misses the cache.
func previewCacheKey(req *previewRequest) string {
	raw, _ := json.Marshal(req)
	sum := sha256.Sum256(raw)
	return "preview:" + hex.EncodeToString(sum[:])
}
