// cmd/outreachd/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/astercc518/outreachd/internal/api/routes"
	"github.com/astercc518/outreachd/internal/config"
	"github.com/astercc518/outreachd/internal/delegate"
	"github.com/astercc518/outreachd/internal/engine"
	"github.com/astercc518/outreachd/internal/gateway"
	"github.com/astercc518/outreachd/internal/queue"
	"github.com/astercc518/outreachd/internal/storage/leveldb"
	"github.com/astercc518/outreachd/internal/storage/postgres"
)

func main() {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize PostgreSQL client
	db, err := postgres.NewClient(cfg.Postgres)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Initialize LevelDB preview cache
	cache, err := leveldb.NewClient(cfg.LevelDB, time.Duration(cfg.Engine.PreviewCacheTTL)*time.Second)
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer cache.Close()

	// Initialize RabbitMQ audit sink
	sink, err := queue.NewRabbitMQ(cfg.RabbitMQ)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer sink.Close()

	// Platform gateway the delegates act through
	gw := gateway.NewClient(cfg.Gateway)

	// Delegate allocator, backed by the database registry
	allocator := delegate.NewAllocator(db)

	// Create and start the engine
	eng := engine.NewEngine(cfg.Engine, cfg.Gateway, db, db, allocator, gw, sink)

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}

	// HTTP control surface
	router := routes.SetupRouter(cfg, db, cache, eng, allocator)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		log.Printf("HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server stopped with error: %v", err)
			cancel()
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Printf("Received shutdown signal: %v", sig)
	case <-ctx.Done():
	}

	shutdownTimeout := time.Duration(cfg.Engine.ShutdownTimeout) * time.Second

	// Stop accepting requests first, then wind down the loops
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during server shutdown: %v", err)
	}

	// Cancel the base context so loops persist and exit
	cancel()
	if err := eng.Shutdown(shutdownTimeout); err != nil {
		log.Printf("Error during engine shutdown: %v", err)
	}

	log.Println("Engine shutdown complete")
}
