// Command api is the ClinicPulse nudge engine API server. It serves the
// notification endpoints and runs the background workers: the cron-driven
// nightly nudge run, the scheduled-dispatch sweep, and the expiry cleanup
// sweep.
//
// Usage:
//
//	nudge-api
//	API_PORT=8080 nudge-api

// @title ClinicPulse Nudge Engine API
// @version 1.0.0
// @description Rule-driven nudge and notification scheduling engine: evaluates business rules against per-clinic metric snapshots, manages the notification lifecycle, and exposes engagement statistics.
// @host localhost:8000
// @BasePath /api/v1
// @schemes http https
// @license.name MIT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/clinicpulse/nudge-engine/internal/api"
	"github.com/clinicpulse/nudge-engine/internal/cache"
	"github.com/clinicpulse/nudge-engine/internal/clinic"
	"github.com/clinicpulse/nudge-engine/internal/config"
	"github.com/clinicpulse/nudge-engine/internal/db"
	"github.com/clinicpulse/nudge-engine/internal/metrics"
	"github.com/clinicpulse/nudge-engine/internal/notify"
	"github.com/clinicpulse/nudge-engine/internal/rules"
	"github.com/clinicpulse/nudge-engine/internal/scheduler"

	_ "github.com/clinicpulse/nudge-engine/docs" // swagger docs
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// Load .env if present
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.RequireDB(); err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Connect to database
	logger.Info("Connecting to database...")
	pool, err := db.New(ctx, cfg)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("Database connected",
		"min_conns", cfg.DBPoolMinConns,
		"max_conns", cfg.DBPoolMaxConns)

	// Core wiring: directory, metrics, store, dispatcher, rule engine
	directory := clinic.NewPGDirectory(pool.Pool)
	provider := metrics.NewPGProvider(pool.Pool)
	store := notify.NewPGStore(pool.Pool)

	push := notify.NewPushSender(cfg.PushAPIKey, logger)
	email := notify.NewEmailSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom, logger)
	lookup := func(ctx context.Context, clinicID string) (string, error) {
		c, err := directory.GetByID(ctx, clinicID)
		if err != nil {
			return "", err
		}
		return c.Email, nil
	}
	store.SetDispatcher(notify.NewDispatcher(push, email, lookup, store, logger))

	engine := rules.NewEngine(rules.Catalog(), store, logger)
	runner := scheduler.NewRunner(
		directory, provider, engine, store,
		scheduler.NewPGRunLog(pool.Pool), logger,
		scheduler.WithBatchSize(cfg.NudgeBatchSize),
		scheduler.WithBatchRate(cfg.NudgeBatchPerSec),
		scheduler.WithClinicTimeout(cfg.NudgeTimeout),
	)

	// Background sweeps: scheduled dispatch + expiry cleanup
	go notify.StartDispatchWorker(ctx, store, cfg.DispatchInterval, logger)
	go notify.StartCleanupWorker(ctx, store, cfg.CleanupInterval, logger)

	// Nightly nudge run on the configured cron schedule
	if cfg.NudgeCronSpec != "" {
		c := cron.New()
		_, err := c.AddFunc(cfg.NudgeCronSpec, func() {
			result := runner.RunForAllClinics(ctx)
			logger.Info("scheduled nudge run finished", "summary", result.Summary())
		})
		if err != nil {
			logger.Error("Invalid NUDGE_CRON schedule", "spec", cfg.NudgeCronSpec, "error", err)
			os.Exit(1)
		}
		c.Start()
		defer c.Stop()
		logger.Info("Nudge cron scheduled", "spec", cfg.NudgeCronSpec)
	} else {
		logger.Info("Nudge cron disabled (NUDGE_CRON empty)")
	}

	// Initialize cache
	appCache := cache.New(cfg.CacheEnabled)
	logger.Info("Cache initialized", "enabled", cfg.CacheEnabled)

	// Create router
	router := api.NewRouter(store, runner, appCache, cfg, pool.Pool)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info("Starting Nudge Engine API",
			"addr", addr,
			"environment", cfg.Environment,
			"docs", fmt.Sprintf("http://localhost:%d/docs/", cfg.APIPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-ctx.Done()
	logger.Info("Shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")
}
