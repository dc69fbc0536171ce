package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/careloop/caresched/services/notification-service/internal/email"
	"github.com/careloop/caresched/services/notification-service/internal/sms"
	"github.com/careloop/caresched/services/notification-service/internal/storage"
)

// Event types this service consumes.
const (
	EventConfirmed   = "scheduling.appointment.confirmed.v1"
	EventCancelled   = "scheduling.appointment.cancelled.v1"
	EventReminderDue = "scheduling.reminder.due.v1"
)

type ContactSource interface {
	GetContact(ctx context.Context, userID string) (storage.Contact, error)
}

type Recorder interface {
	Insert(ctx context.Context, n storage.Notification) error
}

// Dispatcher turns scheduling events into per-recipient deliveries. A
// failed send is recorded and swallowed: notification trouble must never
// bubble back into the booking flow.
type Dispatcher struct {
	contacts ContactSource
	email    email.Sender
	sms      sms.Sender
	store    Recorder
	logger   *slog.Logger
}

func New(contacts ContactSource, emailSender email.Sender, smsSender sms.Sender, store Recorder, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		contacts: contacts,
		email:    emailSender,
		sms:      smsSender,
		store:    store,
		logger:   logger,
	}
}

type summary struct {
	AppointmentID    string `json:"appointment_id"`
	ClientID         string `json:"client_id"`
	ProviderID       string `json:"provider_id"`
	ServiceType      string `json:"service_type"`
	StartTime        string `json:"start_time"`
	EndTime          string `json:"end_time"`
	DurationMinutes  int    `json:"duration_minutes"`
	TotalAmountCents int64  `json:"total_amount_cents"`
}

type envelope struct {
	RecipientIDs []string `json:"recipient_ids"`
	Summary      summary  `json:"summary"`
	Reason       string   `json:"reason"`
	RemindAt     string   `json:"remind_at"`
}

func (d *Dispatcher) Handle(ctx context.Context, eventType string, payload []byte) error {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		d.logger.Error("invalid event payload", "err", err, "event_type", eventType)
		return nil
	}
	if env.Summary.AppointmentID == "" || len(env.RecipientIDs) == 0 {
		d.logger.Error("missing event fields", "event_type", eventType)
		return nil
	}

	for _, recipientID := range env.RecipientIDs {
		contact, err := d.contacts.GetContact(ctx, recipientID)
		if errors.Is(err, storage.ErrContactUnknown) {
			d.logger.Warn("no contact on file, skipping",
				"recipient_id", recipientID, "appointment_id", env.Summary.AppointmentID)
			continue
		}
		if err != nil {
			return err
		}
		if err := d.deliver(ctx, eventType, env, contact); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, eventType string, env envelope, contact storage.Contact) error {
	subject, body, ok := render(eventType, env, contact)
	if !ok {
		d.logger.Error("unsupported event type", "event_type", eventType)
		return nil
	}

	channel := "email"
	if strings.EqualFold(contact.PreferredChannel, "sms") && contact.Phone != "" {
		channel = "sms"
	}

	status := "sent"
	failureReason := ""
	var recipient string
	switch channel {
	case "sms":
		recipient = contact.Phone
		if err := d.sms.Send(ctx, contact.Phone, body); err != nil {
			status = "failed"
			failureReason = err.Error()
			d.logger.Error("sms send failed", "err", err, "recipient_id", contact.UserID)
		}
	default:
		recipient = contact.Email
		if recipient == "" {
			status = "failed"
			failureReason = "no email on file"
		} else if err := d.email.Send(contact.Email, subject, body); err != nil {
			status = "failed"
			failureReason = err.Error()
			d.logger.Error("email send failed", "err", err, "recipient_id", contact.UserID)
		}
	}

	if err := d.store.Insert(ctx, storage.Notification{
		AppointmentID: env.Summary.AppointmentID,
		RecipientID:   contact.UserID,
		EventType:     eventType,
		Channel:       channel,
		Recipient:     recipient,
		Payload: map[string]any{
			"subject": subject,
			"body":    body,
		},
		Status:        status,
		FailureReason: failureReason,
	}); err != nil {
		d.logger.Error("failed to persist notification", "err", err)
		return err
	}

	d.logger.Info("notification processed",
		"appointment_id", env.Summary.AppointmentID,
		"recipient_id", contact.UserID,
		"channel", channel,
		"status", status)
	return nil
}

func render(eventType string, env envelope, contact storage.Contact) (subject, body string, ok bool) {
	when := fmt.Sprintf("%s to %s", env.Summary.StartTime, env.Summary.EndTime)
	session := strings.ReplaceAll(env.Summary.ServiceType, "_", " ")
	greeting := "Hello"
	if contact.DisplayName != "" {
		greeting = "Hello " + contact.DisplayName
	}

	switch eventType {
	case EventConfirmed:
		subject = "Appointment confirmed"
		body = fmt.Sprintf("%s,\n\nYour %s on %s is confirmed.\nTotal: %s.\n",
			greeting, session, when, dollars(env.Summary.TotalAmountCents))
	case EventCancelled:
		subject = "Appointment cancelled"
		body = fmt.Sprintf("%s,\n\nYour %s on %s has been cancelled.\n", greeting, session, when)
		if env.Reason != "" {
			body += "Reason: " + env.Reason + "\n"
		}
	case EventReminderDue:
		subject = "Upcoming appointment"
		body = fmt.Sprintf("%s,\n\nThis is a reminder of your %s on %s.\n", greeting, session, when)
	default:
		return "", "", false
	}
	return subject, body, true
}

func dollars(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
