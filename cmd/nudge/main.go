// Command nudge is the ops CLI for the nudge engine.
//
// Usage:
//
//	nudge run --batch-size 10 --rate 1
//	nudge sweep scheduled
//	nudge sweep cleanup
//	nudge stats --clinic <id> --days 30
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/clinicpulse/nudge-engine/internal/clinic"
	"github.com/clinicpulse/nudge-engine/internal/config"
	"github.com/clinicpulse/nudge-engine/internal/db"
	"github.com/clinicpulse/nudge-engine/internal/metrics"
	"github.com/clinicpulse/nudge-engine/internal/notify"
	"github.com/clinicpulse/nudge-engine/internal/rules"
	"github.com/clinicpulse/nudge-engine/internal/scheduler"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:   "nudge",
		Short: "ClinicPulse nudge engine ops CLI",
	}

	root.AddCommand(runCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(statsCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// run command
// --------------------------------------------------------------------------

func runCmd() *cobra.Command {
	var (
		batchSize int
		batchRate float64
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate the nudge catalog for all active clinics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				store := notify.NewPGStore(pool.Pool)
				directory := clinic.NewPGDirectory(pool.Pool)

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
					directory, metrics.NewPGProvider(pool.Pool), engine, store,
					scheduler.NewPGRunLog(pool.Pool), logger,
					scheduler.WithBatchSize(batchSize),
					scheduler.WithBatchRate(batchRate),
					scheduler.WithClinicTimeout(timeout),
				)

				result := runner.RunForAllClinics(ctx)
				logger.Info("Nudge run finished", "summary", result.Summary())
				for _, detail := range result.ErrorDetails {
					logger.Error("run error", "error", detail)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 10, "Clinics per batch")
	cmd.Flags().Float64Var(&batchRate, "rate", 1.0, "Batches started per second")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Per-clinic evaluation timeout")
	return cmd
}

// --------------------------------------------------------------------------
// sweep command
// --------------------------------------------------------------------------

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one sweep iteration manually",
	}
	cmd.AddCommand(sweepScheduledCmd())
	cmd.AddCommand(sweepCleanupCmd())
	return cmd
}

func sweepScheduledCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduled",
		Short: "Dispatch due scheduled notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				store := notify.NewPGStore(pool.Pool)
				push := notify.NewPushSender(cfg.PushAPIKey, logger)
				email := notify.NewEmailSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom, logger)
				directory := clinic.NewPGDirectory(pool.Pool)
				lookup := func(ctx context.Context, clinicID string) (string, error) {
					c, err := directory.GetByID(ctx, clinicID)
					if err != nil {
						return "", err
					}
					return c.Email, nil
				}
				store.SetDispatcher(notify.NewDispatcher(push, email, lookup, store, logger))

				n, err := store.ProcessScheduled(ctx, time.Now())
				if err != nil {
					return err
				}
				logger.Info("Scheduled sweep finished", "dispatched", n)
				return nil
			})
		},
	}
}

func sweepCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete notifications past expiry and retention floor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				store := notify.NewPGStore(pool.Pool)
				deleted, err := store.CleanupExpired(ctx, time.Now())
				if err != nil {
					return err
				}
				logger.Info("Cleanup sweep finished", "deleted", deleted)
				return nil
			})
		},
	}
}

// --------------------------------------------------------------------------
// stats command
// --------------------------------------------------------------------------

func statsCmd() *cobra.Command {
	var (
		clinicID string
		days     int
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print engagement statistics for one clinic",
		RunE: func(cmd *cobra.Command, args []string) error {
			if clinicID == "" {
				return fmt.Errorf("--clinic is required")
			}
			return withPool(func(ctx context.Context, cfg *config.Config, pool *db.Pool) error {
				store := notify.NewPGStore(pool.Pool)
				stats, err := store.Stats(ctx, clinicID, days)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			})
		},
	}
	cmd.Flags().StringVar(&clinicID, "clinic", "", "Clinic ID")
	cmd.Flags().IntVar(&days, "days", 30, "Trailing window in days")
	return cmd
}

// --------------------------------------------------------------------------
// Shared setup
// --------------------------------------------------------------------------

// withPool handles config loading, DB connection, and context cancellation.
func withPool(fn func(ctx context.Context, cfg *config.Config, pool *db.Pool) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.RequireDB(); err != nil {
		return err
	}

	pool, err := db.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	return fn(ctx, cfg, pool)
}
