// Package main implements the entry point for the PromptDeck API server,
// which accepts asynchronous AI-task requests over HTTP and executes them
// through the background job scheduler.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/promptdeck/promptdeck-api/internal/api"
	"github.com/promptdeck/promptdeck-api/internal/config"
	"github.com/promptdeck/promptdeck-api/internal/events"
	"github.com/promptdeck/promptdeck-api/internal/generation"
	"github.com/promptdeck/promptdeck-api/internal/jobs"
	"github.com/promptdeck/promptdeck-api/internal/platform/gemini"
	"github.com/promptdeck/promptdeck-api/internal/platform/logger"
	"github.com/promptdeck/promptdeck-api/internal/platform/postgres"
	"github.com/promptdeck/promptdeck-api/internal/processors"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("server exited with error: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := logger.Setup(cfg.Server, cfg.Scheduler.DebugMode)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	slog.Info("server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"concurrency_limit", cfg.Scheduler.ConcurrencyLimit)

	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return err
	}

	jobStore := postgres.NewPostgresJobStore(db)

	// Event bridge: the API emits job requests, the handler persists them.
	emitter := events.NewInMemoryEventEmitter(appLogger)
	emitter.RegisterHandler(jobs.NewJobRequestEventHandler(jobStore, appLogger))

	registry := jobs.NewRegistry(appLogger)
	if err := registerProcessors(cfg, jobStore, registry, appLogger); err != nil {
		return err
	}

	dispatcher := jobs.NewDispatcher(jobStore, registry, jobs.DefaultDispatcherConfig(), appLogger)
	scheduler := jobs.NewScheduler(jobStore, jobs.NewQueue(appLogger), dispatcher, jobs.SchedulerConfig{
		ConcurrencyLimit: cfg.Scheduler.ConcurrencyLimit,
		PollingInterval:  time.Duration(cfg.Scheduler.PollingIntervalMs) * time.Millisecond,
		DBPollInterval:   time.Duration(cfg.Scheduler.DBPollIntervalMs) * time.Millisecond,
		JobTimeout:       time.Duration(cfg.Scheduler.JobTimeoutMs) * time.Millisecond,
		StaleJobTimeout:  time.Duration(cfg.Scheduler.StaleJobTimeoutSeconds) * time.Second,
	}, appLogger)

	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer scheduler.Stop()

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	jobHandler := api.NewJobHandler(emitter, jobStore, appLogger)
	router.Route("/api", jobHandler.Routes)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed: %w", err)
	case sig := <-stop:
		slog.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}

	// Deferred scheduler.Stop waits for in-flight jobs before the process
	// exits; unfinished acknowledged rows are recovered by the stale-lease
	// reset on the next start.
	return nil
}

// registerProcessors builds the model client and binds a processor to every
// job type. Without an API key the server still runs its HTTP surface, but
// claimed jobs fail with a configuration error instead of silently queueing
// forever.
func registerProcessors(cfg *config.Config, store jobs.JobStore, registry *jobs.Registry, appLogger *slog.Logger) error {
	if cfg.LLM.GeminiAPIKey == "" {
		slog.Warn("no Gemini API key configured, job processors disabled")
		return nil
	}

	generator, err := gemini.NewGenerator(context.Background(), appLogger, cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to create Gemini generator: %w", err)
	}

	var (
		gen generation.Generator   = generator
		tr  generation.Transcriber = generator
	)
	if err := processors.RegisterAll(registry, store, gen, tr, appLogger); err != nil {
		return fmt.Errorf("failed to register processors: %w", err)
	}

	slog.Info("processors registered", "types", registry.RegisteredTypes())
	return nil
}
