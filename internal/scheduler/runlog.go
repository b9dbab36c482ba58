package scheduler

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicpulse/nudge-engine/internal/config"
)

// RunLog persists run summaries and individual rule firings for audit.
type RunLog interface {
	RecordRun(ctx context.Context, result RunResult) error
	RecordFiring(ctx context.Context, firing Firing) error
}

// PGRunLog writes to the nudge_runs and nudge_logs tables.
type PGRunLog struct {
	pool *pgxpool.Pool
}

// NewPGRunLog creates a run log backed by the shared pool.
func NewPGRunLog(pool *pgxpool.Pool) *PGRunLog {
	return &PGRunLog{pool: pool}
}

// RecordRun appends one run summary.
func (l *PGRunLog) RecordRun(ctx context.Context, r RunResult) error {
	_, err := l.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (
			run_id, total_clinics, processed, errors,
			notifications_created, duplicates_suppressed,
			duration_ms, completed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, config.NudgeRunsTable),
		r.RunID, r.TotalClinics, r.Processed, r.Errors,
		r.NotificationsCreated, r.DuplicatesSuppressed,
		r.Duration.Milliseconds(), r.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert nudge run: %w", err)
	}
	return nil
}

// RecordFiring appends one rule firing.
func (l *PGRunLog) RecordFiring(ctx context.Context, f Firing) error {
	_, err := l.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (
			run_id, clinic_id, rule_id, notification_id, duplicate, fired_at
		) VALUES ($1,$2,$3,$4,$5,$6)`, config.NudgeLogsTable),
		f.RunID, f.ClinicID, f.RuleID, f.NotificationID, f.Duplicate, f.FiredAt,
	)
	if err != nil {
		return fmt.Errorf("insert nudge log: %w", err)
	}
	return nil
}

// NopRunLog discards run records. Used in development mode without a
// database.
type NopRunLog struct{}

func (NopRunLog) RecordRun(ctx context.Context, _ RunResult) error { return nil }
func (NopRunLog) RecordFiring(ctx context.Context, _ Firing) error { return nil }
