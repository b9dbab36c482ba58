package notify

import (
	"context"
	"fmt"
	"log/slog"

	"gopkg.in/gomail.v2"
)

// --------------------------------------------------------------------------
// Push transport
// --------------------------------------------------------------------------

// PushSender sends mobile push notifications.
// Nil-safe: when not configured, all methods are no-ops.
type PushSender struct {
	apiKey string
	logger *slog.Logger
	// TODO: Add firebase.google.com/go/v4/messaging.Client when the FCM
	// dependency is added. For now this is a structured placeholder that
	// logs send attempts.
}

// NewPushSender creates a push sender. Returns nil if apiKey is empty
// (push delivery disabled).
func NewPushSender(apiKey string, logger *slog.Logger) *PushSender {
	if apiKey == "" {
		return nil
	}
	return &PushSender{apiKey: apiKey, logger: logger}
}

// Send delivers one notification to the clinic owner's devices.
// Currently logs the send for development/testing.
func (s *PushSender) Send(ctx context.Context, n *Notification) error {
	if s == nil {
		return nil // no-op when not configured
	}

	// TODO: Replace with the actual FCM client call:
	//   msg := &messaging.Message{
	//       Notification: &messaging.Notification{Title: n.Title, Body: n.Message},
	//       Data:         map[string]string{"action_ref": n.ActionRef},
	//   }
	//   _, err := s.client.Send(ctx, msg)

	s.logger.Info("push send (pending integration)",
		"clinic_id", n.ClinicID, "title", n.Title, "priority", n.Priority)
	return nil
}

// --------------------------------------------------------------------------
// Email transport
// --------------------------------------------------------------------------

// EmailSender delivers urgent notifications by email over SMTP.
type EmailSender struct {
	dialer *gomail.Dialer
	from   string
	logger *slog.Logger
}

// NewEmailSender creates an email sender. Returns nil if host is empty
// (email delivery disabled).
func NewEmailSender(host string, port int, username, password, from string, logger *slog.Logger) *EmailSender {
	if host == "" {
		return nil
	}
	return &EmailSender{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
		logger: logger,
	}
}

// Send delivers one notification to the given address.
func (s *EmailSender) Send(ctx context.Context, to string, n *Notification) error {
	if s == nil {
		return nil
	}
	if to == "" {
		return fmt.Errorf("no contact email for clinic %s", n.ClinicID)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", n.Title)
	body := n.Message
	if n.ActionRef != "" {
		body += fmt.Sprintf("\n\n%s: %s", actionLabelOr(n.ActionLabel, "Open dashboard"), n.ActionRef)
	}
	m.SetBody("text/plain", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	s.logger.Info("email sent", "clinic_id", n.ClinicID, "to", to, "title", n.Title)
	return nil
}

func actionLabelOr(label, fallback string) string {
	if label != "" {
		return label
	}
	return fallback
}
