package notify

import (
	"context"
	"log/slog"
	"time"
)

// EngagementRecorder is the slice of Store the dispatcher needs.
type EngagementRecorder interface {
	AppendEngagement(ctx context.Context, ev EngagementEvent) error
}

// EmailLookup resolves a clinic id to its contact address. Kept as a
// function type so notify does not depend on the clinic directory.
type EmailLookup func(ctx context.Context, clinicID string) (string, error)

// DeliveryDispatcher hands notifications to the configured transports.
// Best-effort by contract: a transport failure is logged and the record
// stays sent; the attempt was made, and automatic retries would risk
// re-delivery loops.
type DeliveryDispatcher struct {
	push     *PushSender
	email    *EmailSender
	lookup   EmailLookup
	recorder EngagementRecorder
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher. Either sender may be nil (disabled).
func NewDispatcher(push *PushSender, email *EmailSender, lookup EmailLookup, recorder EngagementRecorder, logger *slog.Logger) *DeliveryDispatcher {
	return &DeliveryDispatcher{
		push:     push,
		email:    email,
		lookup:   lookup,
		recorder: recorder,
		logger:   logger,
	}
}

// Dispatch delivers one notification. Never returns an error: isolated
// delivery failures must not abort sibling deliveries or roll back the
// persisted record. A sent engagement event is always recorded as the
// attempt marker ("handed to transport", not "confirmed delivered").
func (d *DeliveryDispatcher) Dispatch(ctx context.Context, n *Notification) {
	if err := d.push.Send(ctx, n); err != nil {
		d.logger.Warn("push delivery failed",
			"notification_id", n.ID, "clinic_id", n.ClinicID, "error", err)
	}

	// Urgent notifications additionally go out by email.
	if n.Priority == PriorityUrgent && d.email != nil && d.lookup != nil {
		if to, err := d.lookup(ctx, n.ClinicID); err != nil {
			d.logger.Warn("email lookup failed",
				"notification_id", n.ID, "clinic_id", n.ClinicID, "error", err)
		} else if err := d.email.Send(ctx, to, n); err != nil {
			d.logger.Warn("email delivery failed",
				"notification_id", n.ID, "clinic_id", n.ClinicID, "error", err)
		}
	}

	ev := EngagementEvent{
		NotificationID: n.ID,
		ClinicID:       n.ClinicID,
		Action:         ActionSent,
	}
	if n.SentAt != nil {
		ev.OccurredAt = *n.SentAt
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	if err := d.recorder.AppendEngagement(ctx, ev); err != nil {
		d.logger.Warn("record sent event failed",
			"notification_id", n.ID, "error", err)
	}
}
