// Package scheduler drives the nightly nudge run: it walks the active
// clinic population in fixed-size batches, evaluates the rule catalog per
// clinic, and enqueues the resulting notifications. Batches run
// sequentially behind a token-bucket pacer; clinics within a batch are
// evaluated concurrently.
package scheduler

import (
	"fmt"
	"time"
)

const (
	defaultBatchSize     = 10
	defaultBatchesPerSec = 1.0
	defaultClinicTimeout = 30 * time.Second
)

// RunResult tracks the outcome of one full pass over the population.
type RunResult struct {
	RunID                string        `json:"run_id"`
	TotalClinics         int           `json:"total_clinics"`
	Processed            int           `json:"processed"`
	Errors               int           `json:"errors"`
	NotificationsCreated int           `json:"notifications_created"`
	DuplicatesSuppressed int           `json:"duplicates_suppressed"`
	Duration             time.Duration `json:"duration"`
	CompletedAt          time.Time     `json:"completed_at"`
	ErrorDetails         []string      `json:"error_details,omitempty"`
}

// Summary returns a human-readable summary.
func (r *RunResult) Summary() string {
	return fmt.Sprintf(
		"clinics=%d processed=%d errors=%d created=%d duplicates=%d dur=%s",
		r.TotalClinics, r.Processed, r.Errors,
		r.NotificationsCreated, r.DuplicatesSuppressed,
		r.Duration.Round(time.Millisecond))
}

// Firing is one rule that fired during a run, recorded for audit.
type Firing struct {
	RunID          string    `json:"run_id"`
	ClinicID       string    `json:"clinic_id"`
	RuleID         string    `json:"rule_id"`
	NotificationID string    `json:"notification_id"`
	Duplicate      bool      `json:"duplicate"`
	FiredAt        time.Time `json:"fired_at"`
}
