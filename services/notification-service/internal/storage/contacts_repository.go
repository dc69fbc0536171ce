package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/careloop/caresched/libs/db"
)

var ErrContactUnknown = errors.New("contact not found")

// Contact holds the reachable addresses for a platform user. The table
// is kept in sync from identity events; the scheduling engine itself
// only ever sees user ids.
type Contact struct {
	UserID           string
	DisplayName      string
	Email            string
	Phone            string
	PreferredChannel string
}

type ContactsRepository struct {
	pool *db.Pool
}

func NewContactsRepository(pool *db.Pool) *ContactsRepository {
	return &ContactsRepository{pool: pool}
}

func (r *ContactsRepository) GetContact(ctx context.Context, userID string) (Contact, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT user_id, display_name, email, phone, preferred_channel
		FROM contacts
		WHERE user_id = $1
	`, userID)

	var c Contact
	err := row.Scan(&c.UserID, &c.DisplayName, &c.Email, &c.Phone, &c.PreferredChannel)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, ErrContactUnknown
	}
	if err != nil {
		return Contact{}, err
	}
	return c, nil
}

// Upsert refreshes a contact from an identity event.
func (r *ContactsRepository) Upsert(ctx context.Context, c Contact) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO contacts (user_id, display_name, email, phone, preferred_channel)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			preferred_channel = EXCLUDED.preferred_channel,
			updated_at = now()
	`, c.UserID, c.DisplayName, c.Email, c.Phone, c.PreferredChannel)
	return err
}
