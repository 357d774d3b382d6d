// internal/api/routes/routes.go
package routes

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/astercc518/outreachd/internal/api/handlers"
	"github.com/astercc518/outreachd/internal/config"
	"github.com/astercc518/outreachd/internal/delegate"
	"github.com/astercc518/outreachd/internal/engine"
	"github.com/astercc518/outreachd/internal/storage/leveldb"
	"github.com/astercc518/outreachd/internal/storage/postgres"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func SetupRouter(cfg *config.Config, db *postgres.Client, cache *leveldb.Client, eng *engine.Engine, allocator *delegate.Allocator) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			next.ServeHTTP(w, r)
		})
	})

	// Initialize handlers
	taskHandler := handlers.NewTaskHandler(eng, db)
	previewHandler := handlers.NewPreviewHandler(eng, cache)
	delegateHandler := handlers.NewDelegateHandler(db, allocator)
	statusHandler := handlers.NewStatusHandler(db)

	// Routes
	r.Route("/api/v1", func(r chi.Router) {
		// Task endpoints
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", taskHandler.CreateTask)
			r.Get("/", taskHandler.ListTasks)
			r.Post("/preview", previewHandler.PreviewSelection)
			r.Get("/{id}", taskHandler.GetTask)
			r.Get("/{id}/logs", taskHandler.GetTaskLogs)
			r.Patch("/{id}/status", taskHandler.PatchTaskStatus)
			r.Post("/{id}/cancel", taskHandler.CancelTask)
			r.Delete("/{id}", taskHandler.DeleteTask)
		})

		// Delegate endpoints
		r.Route("/delegates", func(r chi.Router) {
			r.Get("/", delegateHandler.ListDelegates)
			r.Post("/{id}/ban", delegateHandler.BanDelegate)
			r.Post("/{id}/unban", delegateHandler.UnbanDelegate)
		})

		// System Status endpoint
		r.Get("/system/status", statusHandler.GetSystemStatus)
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	return r
}
