// Package reminders schedules pre-session reminder delivery. Jobs are
// written in the booking transaction and flushed to the outbox by a
// polling worker once due.
package reminders

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/careloop/caresched/libs/db"
	otelx "github.com/careloop/caresched/libs/otel"
)

// Job is one pending reminder for one recipient of an appointment.
type Job struct {
	ID            int64
	AppointmentID string
	RecipientID   string
	RemindAt      time.Time
	Payload       []byte
	Attempts      int
	MaxAttempts   int
	Traceparent   string
	Tracestate    string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, job Job) error {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO reminder_jobs (appointment_id, recipient_id, remind_at, payload, max_attempts, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, job.AppointmentID, job.RecipientID, job.RemindAt, job.Payload, maxAttempts, traceparent, tracestate)
	return err
}

func (r *Repository) FetchDue(ctx context.Context, tx pgx.Tx, limit int) ([]Job, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, appointment_id, recipient_id, remind_at, payload, attempts, max_attempts, traceparent, tracestate
		FROM reminder_jobs
		WHERE processed_at IS NULL
			AND remind_at <= now()
			AND next_attempt_at <= now()
			AND attempts < max_attempts
		ORDER BY remind_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.AppointmentID, &j.RecipientID, &j.RemindAt, &j.Payload, &j.Attempts, &j.MaxAttempts, &j.Traceparent, &j.Tracestate); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return jobs, nil
}

func (r *Repository) MarkProcessed(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE reminder_jobs
		SET processed_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, id int64, attempts int, nextAttemptAt time.Time, reason string) error {
	_, err := tx.Exec(ctx, `
		UPDATE reminder_jobs
		SET attempts = $2,
			next_attempt_at = $3,
			last_error = $4
		WHERE id = $1
	`, id, attempts, nextAttemptAt, reason)
	return err
}

// CancelForAppointment drops pending reminders when a booking is
// cancelled; delivered reminders are left untouched.
func (r *Repository) CancelForAppointment(ctx context.Context, tx pgx.Tx, appointmentID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE reminder_jobs
		SET processed_at = now(),
			last_error = 'appointment cancelled'
		WHERE appointment_id = $1 AND processed_at IS NULL
	`, appointmentID)
	return err
}
