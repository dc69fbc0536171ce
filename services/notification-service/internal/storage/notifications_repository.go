package storage

import (
	"context"
	"encoding/json"

	"github.com/careloop/caresched/libs/db"
)

// Notification is one delivery attempt, recorded whether it succeeded
// or not.
type Notification struct {
	AppointmentID string
	RecipientID   string
	EventType     string
	Channel       string
	Recipient     string
	Payload       map[string]any
	Status        string
	FailureReason string
}

type NotificationsRepository struct {
	pool *db.Pool
}

func NewNotificationsRepository(pool *db.Pool) *NotificationsRepository {
	return &NotificationsRepository{pool: pool}
}

func (r *NotificationsRepository) Insert(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO notifications (appointment_id, recipient_id, event_type, channel, recipient, payload, status, failure_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, n.AppointmentID, n.RecipientID, n.EventType, n.Channel, n.Recipient, payload, n.Status, n.FailureReason)
	return err
}
