// Package rules evaluates the declarative nudge catalog against per-clinic
// metric snapshots. Evaluation is pure: the engine returns pending
// notifications and leaves persistence, duplicate suppression, and cooldown
// recording to the notification store downstream.
package rules

import (
	"context"
	"time"

	"github.com/clinicpulse/nudge-engine/internal/clinic"
	"github.com/clinicpulse/nudge-engine/internal/metrics"
	"github.com/clinicpulse/nudge-engine/internal/notify"
)

// Frequency classifies how often a rule is meant to fire. Informational;
// enforcement is the cooldown duration.
type Frequency string

const (
	FrequencyOnce    Frequency = "once"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Content is the rendered message of a fired rule.
type Content struct {
	Title       string
	Message     string
	ActionRef   string
	ActionLabel string
	Tags        []string
	Data        map[string]any
}

// Rule is one declarative nudge: a condition over the snapshot plus a
// message renderer. Rules are value objects compiled into the catalog at
// startup and never mutated.
type Rule struct {
	ID        string
	Name      string
	Category  string // cooldown bucket and grouping key
	Type      notify.Type
	Priority  notify.Priority
	Frequency Frequency
	Cooldown  time.Duration // 0 = always eligible

	Condition func(c *clinic.Clinic, m *metrics.Snapshot) bool
	Render    func(c *clinic.Clinic, m *metrics.Snapshot) Content
}

// Pending is a fired rule ready to be enqueued as a notification. Tagged
// with the rule id for dedup-key construction and run statistics.
type Pending struct {
	RuleID   string
	ClinicID string
	Category string
	Type     notify.Type
	Priority notify.Priority
	Content
}

// CooldownChecker answers "was this category triggered for this clinic at
// or after the given time?". The notification store satisfies it: cooldown
// state is derived from notification rows, not a separate table.
type CooldownChecker interface {
	CategoryTriggeredSince(ctx context.Context, clinicID, category string, since time.Time) (bool, error)
}
