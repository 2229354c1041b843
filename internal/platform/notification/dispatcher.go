package notification

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/medrec/medrec/internal/domain/reconciliation"
)

// Dispatcher adapts the NotificationManager to the reconciliation workflow's
// Notifier interface, fanning a workflow notification out to each recipient.
type Dispatcher struct {
	manager *NotificationManager
	log     zerolog.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(manager *NotificationManager, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{manager: manager, log: log}
}

var _ reconciliation.Notifier = (*Dispatcher)(nil)

// Send delivers the workflow notification to every recipient. Each recipient
// gets an individual notification so failures can be retried independently.
// The first delivery error is returned after all recipients are attempted.
func (d *Dispatcher) Send(ctx context.Context, n reconciliation.Notification) error {
	var firstErr error
	for _, recipient := range n.Recipients {
		out := &Notification{
			Type:      TypeEmail,
			Recipient: recipient,
			Subject:   n.Title,
			Body:      n.Message,
			Priority:  priorityFor(n.Type),
			Metadata:  n.Data,
		}
		if err := d.manager.Send(ctx, out); err != nil {
			d.log.Warn().Err(err).
				Str("notification_type", n.Type).
				Str("recipient", recipient).
				Msg("notification delivery failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("send to %s: %w", recipient, err)
			}
		}
	}
	return firstErr
}

func priorityFor(notificationType string) string {
	if notificationType == "critical_medication_alert" {
		return "urgent"
	}
	return "normal"
}

// LogEmailSender writes outgoing email to the structured log. It stands in
// for a real SMTP integration in development deployments.
type LogEmailSender struct {
	log zerolog.Logger
}

// NewLogEmailSender constructs a LogEmailSender.
func NewLogEmailSender(log zerolog.Logger) *LogEmailSender {
	return &LogEmailSender{log: log}
}

// SendEmail logs the email and reports success.
func (s *LogEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.log.Info().
		Str("channel", "email").
		Str("to", to).
		Str("subject", subject).
		Int("body_bytes", len(body)).
		Msg("notification sent")
	return nil
}

// LogSMSSender writes outgoing SMS messages to the structured log.
type LogSMSSender struct {
	log zerolog.Logger
}

// NewLogSMSSender constructs a LogSMSSender.
func NewLogSMSSender(log zerolog.Logger) *LogSMSSender {
	return &LogSMSSender{log: log}
}

// SendSMS logs the message and reports success.
func (s *LogSMSSender) SendSMS(_ context.Context, to, body string) error {
	s.log.Info().
		Str("channel", "sms").
		Str("to", to).
		Int("body_bytes", len(body)).
		Msg("notification sent")
	return nil
}
