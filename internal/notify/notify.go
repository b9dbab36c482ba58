// Package notify implements the notification lifecycle: enqueue with
// duplicate suppression, scheduled dispatch, read/dismiss mutations, expiry
// cleanup, and engagement statistics.
//
// Lifecycle: queued → sent (dispatch attempt, success or failure) → read /
// dismissed → expired (derived from expires_at) → deleted by the retention
// sweep. There is no separate failed state: a failed dispatch still moves
// the record to sent so it is never re-delivered in a loop.
package notify

import (
	"context"
	"errors"
	"time"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	// DuplicateWindow is the exact-match (clinic, type, title) suppression
	// window applied on enqueue. Independent of rule cooldowns: both layers
	// are enforced.
	DuplicateWindow = 24 * time.Hour

	// DefaultTTL is applied when a rule does not set an expiry.
	DefaultTTL = 30 * 24 * time.Hour

	// RetentionFloor keeps records queryable for audit even when a rule set
	// an unusually short expiry. CleanupExpired never deletes anything
	// younger than this.
	RetentionFloor = 90 * 24 * time.Hour

	// ScheduledBatchSize bounds memory and transport load per sweep tick.
	ScheduledBatchSize = 50
)

// ErrNotFound is returned by mutations targeting an unknown notification.
var ErrNotFound = errors.New("notification not found")

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Type classifies what the front end renders the notification as.
type Type string

const (
	TypeReminder    Type = "reminder"
	TypeAchievement Type = "achievement"
	TypeSEOIssue    Type = "seo_issue"
	TypeMilestone   Type = "milestone"
	TypeWarning     Type = "warning"
	TypeTip         Type = "tip"
)

// Priority orders notifications in the UI and picks delivery transports.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Notification is the persisted record.
type Notification struct {
	ID          string         `json:"id"`
	ClinicID    string         `json:"clinic_id"`
	Type        Type           `json:"type"`
	Priority    Priority       `json:"priority"`
	Title       string         `json:"title"`
	Message     string         `json:"message"`
	ActionRef   string         `json:"action_ref,omitempty"`
	ActionLabel string         `json:"action_label,omitempty"`
	Category    string         `json:"category"`
	Tags        []string       `json:"tags,omitempty"`
	Data        map[string]any `json:"data,omitempty"`

	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	ReadAt       *time.Time `json:"read_at,omitempty"`
	Dismissed    bool       `json:"dismissed"`
	ExpiresAt    time.Time  `json:"expires_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Expired reports whether the notification is past its expiry.
func (n *Notification) Expired(now time.Time) bool {
	return n.ExpiresAt.Before(now)
}

// DueAt reports whether the notification should be dispatched at now:
// no schedule, or a schedule that has passed.
func (n *Notification) DueAt(now time.Time) bool {
	return n.ScheduledFor == nil || !n.ScheduledFor.After(now)
}

// EngagementAction is what happened to a notification.
type EngagementAction string

const (
	ActionSent      EngagementAction = "sent"
	ActionRead      EngagementAction = "read"
	ActionDismissed EngagementAction = "dismissed"
	ActionClicked   EngagementAction = "clicked"
)

// EngagementEvent is an append-only audit record. Never mutated.
type EngagementEvent struct {
	NotificationID string           `json:"notification_id"`
	ClinicID       string           `json:"clinic_id"`
	Action         EngagementAction `json:"action"`
	OccurredAt     time.Time        `json:"occurred_at"`
}

// ListOptions filters GetForClinic.
type ListOptions struct {
	Limit          int // 0 = default 50
	UnreadOnly     bool
	Category       string
	IncludeExpired bool
}

// CategoryCount is one entry of the per-category breakdown in Stats.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// Stats aggregates engagement over a trailing window.
type Stats struct {
	ClinicID               string          `json:"clinic_id"`
	Days                   int             `json:"days"`
	TotalSent              int             `json:"total_sent"`
	TotalRead              int             `json:"total_read"`
	TotalDismissed         int             `json:"total_dismissed"`
	ReadRate               float64         `json:"read_rate"`
	AvgResponseTimeMinutes float64         `json:"avg_response_time_minutes"`
	TopCategories          []CategoryCount `json:"top_categories"`
}

// --------------------------------------------------------------------------
// Interfaces
// --------------------------------------------------------------------------

// Dispatcher hands a notification to a delivery transport. Best-effort:
// implementations log failures and never propagate them.
type Dispatcher interface {
	Dispatch(ctx context.Context, n *Notification)
}

// Store is the durable notification record set. Implementations must treat
// the duplicate-check-then-insert in Enqueue as atomic at the storage layer
// and must support concurrent writers for different clinics.
type Store interface {
	// Enqueue persists a notification, applying the 24h (clinic, type,
	// title) duplicate window. On a duplicate it returns the existing id
	// with duplicate=true and performs no insert. When the notification is
	// due it is dispatched synchronously before Enqueue returns.
	Enqueue(ctx context.Context, n *Notification) (id string, duplicate bool, err error)

	// ProcessScheduled dispatches up to ScheduledBatchSize not-yet-sent
	// notifications whose schedule has passed, oldest due first. Returns
	// the number dispatched.
	ProcessScheduled(ctx context.Context, now time.Time) (int, error)

	// MarkRead and Dismiss are idempotent; each appends an engagement
	// event on the first application and is a no-op afterwards.
	MarkRead(ctx context.Context, id, clinicID string) error
	Dismiss(ctx context.Context, id, clinicID string) error

	// GetForClinic lists notifications newest first.
	GetForClinic(ctx context.Context, clinicID string, opts ListOptions) ([]Notification, error)

	// CleanupExpired deletes records past expiry AND older than the
	// retention floor. Returns the number deleted.
	CleanupExpired(ctx context.Context, now time.Time) (int64, error)

	// Stats aggregates engagement over the trailing window.
	Stats(ctx context.Context, clinicID string, days int) (*Stats, error)

	// CategoryTriggeredSince answers the rule-engine cooldown check: was a
	// notification of this category created for this clinic at or after
	// the given time?
	CategoryTriggeredSince(ctx context.Context, clinicID, category string, since time.Time) (bool, error)

	// AppendEngagement records an audit event.
	AppendEngagement(ctx context.Context, ev EngagementEvent) error
}
