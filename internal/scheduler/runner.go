package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/clinicpulse/nudge-engine/internal/clinic"
	"github.com/clinicpulse/nudge-engine/internal/metrics"
	"github.com/clinicpulse/nudge-engine/internal/notify"
	"github.com/clinicpulse/nudge-engine/internal/rules"
)

// Runner orchestrates batch evaluation over the clinic population.
type Runner struct {
	directory clinic.Directory
	provider  metrics.Provider
	engine    *rules.Engine
	store     notify.Store
	runLog    RunLog
	logger    *slog.Logger

	batchSize     int
	batchesPerSec float64
	clinicTimeout time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithBatchSize overrides the default batch size of 10.
func WithBatchSize(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithBatchRate overrides how many batches start per second. The pacer is
// the primary backpressure protecting the metrics provider and transports.
func WithBatchRate(perSec float64) Option {
	return func(r *Runner) {
		if perSec > 0 {
			r.batchesPerSec = perSec
		}
	}
}

// WithClinicTimeout bounds a single clinic's evaluation.
func WithClinicTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.clinicTimeout = d
		}
	}
}

// NewRunner wires the orchestrator.
func NewRunner(
	directory clinic.Directory,
	provider metrics.Provider,
	engine *rules.Engine,
	store notify.Store,
	runLog RunLog,
	logger *slog.Logger,
	opts ...Option,
) *Runner {
	r := &Runner{
		directory:     directory,
		provider:      provider,
		engine:        engine,
		store:         store,
		runLog:        runLog,
		logger:        logger,
		batchSize:     defaultBatchSize,
		batchesPerSec: defaultBatchesPerSec,
		clinicTimeout: defaultClinicTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunForAllClinics evaluates every active clinic once. Single-clinic
// failures are counted and logged but never stop the run; the summary is
// persisted to the run log on completion.
func (r *Runner) RunForAllClinics(ctx context.Context) RunResult {
	start := time.Now()
	result := RunResult{RunID: uuid.NewString()}

	clinics, err := r.directory.ListActive(ctx)
	if err != nil {
		result.Errors++
		result.ErrorDetails = append(result.ErrorDetails, fmt.Sprintf("list clinics: %v", err))
		result.Duration = time.Since(start)
		result.CompletedAt = time.Now()
		r.logger.Error("nudge run aborted: directory unavailable", "error", err)
		return result
	}

	result.TotalClinics = len(clinics)
	r.logger.Info("nudge run started",
		"run_id", result.RunID, "clinics", len(clinics), "batch_size", r.batchSize)

	// Sequential batches behind a token bucket; concurrent within a batch.
	limiter := rate.NewLimiter(rate.Limit(r.batchesPerSec), 1)
	var mu sync.Mutex

	for offset := 0; offset < len(clinics); offset += r.batchSize {
		if err := limiter.Wait(ctx); err != nil {
			mu.Lock()
			result.Errors++
			result.ErrorDetails = append(result.ErrorDetails, fmt.Sprintf("run cancelled: %v", err))
			mu.Unlock()
			break
		}

		end := offset + r.batchSize
		if end > len(clinics) {
			end = len(clinics)
		}
		batch := clinics[offset:end]

		var wg sync.WaitGroup
		for i := range batch {
			wg.Add(1)
			go func(c *clinic.Clinic) {
				defer wg.Done()
				created, duplicates, err := r.processClinic(ctx, c, result.RunID)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					result.Errors++
					result.ErrorDetails = append(result.ErrorDetails, fmt.Sprintf("clinic %s: %v", c.ID, err))
					return
				}
				result.Processed++
				result.NotificationsCreated += created
				result.DuplicatesSuppressed += duplicates
			}(&batch[i])
		}
		wg.Wait()
	}

	result.Duration = time.Since(start)
	result.CompletedAt = time.Now()

	if err := r.runLog.RecordRun(ctx, result); err != nil {
		r.logger.Warn("persist run summary failed", "run_id", result.RunID, "error", err)
	}
	r.logger.Info("nudge run complete", "run_id", result.RunID, "summary", result.Summary())
	return result
}

// processClinic evaluates one clinic under its own timeout. Either a
// notification was durably enqueued before the deadline or it was not
// created at all; enqueue is a single store call, so no partial state.
func (r *Runner) processClinic(ctx context.Context, c *clinic.Clinic, runID string) (created, duplicates int, err error) {
	ctx, cancel := context.WithTimeout(ctx, r.clinicTimeout)
	defer cancel()

	snapshot, err := r.provider.Snapshot(ctx, c.ID)
	if err != nil {
		r.logger.Warn("snapshot unavailable", "clinic_id", c.ID, "error", err)
		return 0, 0, fmt.Errorf("snapshot: %w", err)
	}

	pending := r.engine.Evaluate(ctx, c, snapshot)
	for _, p := range pending {
		n := &notify.Notification{
			ClinicID:    p.ClinicID,
			Type:        p.Type,
			Priority:    p.Priority,
			Title:       p.Title,
			Message:     p.Message,
			ActionRef:   p.ActionRef,
			ActionLabel: p.ActionLabel,
			Category:    p.Category,
			Tags:        p.Tags,
			Data:        withRuleID(p.Data, p.RuleID),
		}

		id, duplicate, err := r.store.Enqueue(ctx, n)
		if err != nil {
			return created, duplicates, fmt.Errorf("enqueue %s: %w", p.RuleID, err)
		}
		if duplicate {
			duplicates++
		} else {
			created++
		}

		firing := Firing{
			RunID:          runID,
			ClinicID:       c.ID,
			RuleID:         p.RuleID,
			NotificationID: id,
			Duplicate:      duplicate,
			FiredAt:        time.Now(),
		}
		if err := r.runLog.RecordFiring(ctx, firing); err != nil {
			r.logger.Warn("persist firing failed",
				"clinic_id", c.ID, "rule_id", p.RuleID, "error", err)
		}
	}
	return created, duplicates, nil
}

func withRuleID(data map[string]any, ruleID string) map[string]any {
	if data == nil {
		data = make(map[string]any, 1)
	}
	data["rule_id"] = ruleID
	return data
}
