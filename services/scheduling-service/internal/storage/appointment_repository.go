// Package storage is the postgres persistence layer. The appointments
// table carries an exclusion constraint on (provider_id, interval) over
// non-terminal rows; it is the authority that prevents double-booking
// when two requests race past the orchestrator's pre-check.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/careloop/caresched/libs/db"
	"github.com/careloop/caresched/services/scheduling-service/internal/booking"
	"github.com/careloop/caresched/services/scheduling-service/internal/model"
	"github.com/careloop/caresched/services/scheduling-service/internal/outbox"
	"github.com/careloop/caresched/services/scheduling-service/internal/reminders"
)

const appointmentColumns = `
	id, client_id, provider_id, service_type, start_time, end_time,
	duration_minutes, status, hourly_rate_cents, total_amount_cents,
	payment_status, cancelled_at, COALESCE(cancellation_reason, ''),
	created_at, updated_at`

type AppointmentRepository struct {
	pool      *db.Pool
	outbox    *outbox.Repository
	reminders *reminders.Repository
}

func NewAppointmentRepository(pool *db.Pool, outboxRepo *outbox.Repository, remindersRepo *reminders.Repository) *AppointmentRepository {
	return &AppointmentRepository{pool: pool, outbox: outboxRepo, reminders: remindersRepo}
}

var _ booking.Store = (*AppointmentRepository)(nil)

func (r *AppointmentRepository) Insert(ctx context.Context, appt *model.Appointment, events []outbox.Event, jobs []reminders.Job) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO appointments
			(id, client_id, provider_id, service_type, start_time, end_time,
			 duration_minutes, status, hourly_rate_cents, total_amount_cents,
			 payment_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
	`, appt.ID, appt.ClientID, appt.ProviderID, appt.ServiceType, appt.StartTime, appt.EndTime,
		appt.DurationMinutes, appt.Status, appt.HourlyRateCents, appt.TotalAmountCents,
		appt.PaymentStatus, appt.CreatedAt)
	if err != nil {
		if isExclusionViolation(err) {
			return &booking.ConflictError{}
		}
		return err
	}

	for _, evt := range events {
		if err := r.outbox.Insert(ctx, tx, evt); err != nil {
			return err
		}
	}
	for _, job := range jobs {
		if err := r.reminders.Insert(ctx, tx, job); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *AppointmentRepository) Get(ctx context.Context, id string) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Appointment{}, booking.ErrNotFound
		}
		return model.Appointment{}, err
	}
	return appt, nil
}

func (r *AppointmentRepository) ListActiveOverlapping(ctx context.Context, providerID string, from, to time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
			AND status IN ('scheduled', 'confirmed', 'in_progress')
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time
	`, providerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAppointments(rows)
}

func (r *AppointmentRepository) Transition(ctx context.Context, id string, from, to model.Status, reason string, events []outbox.Event) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var row pgx.Row
	if to == model.StatusCancelled {
		row = tx.QueryRow(ctx, `
			UPDATE appointments
			SET status = $3,
				cancelled_at = now(),
				cancellation_reason = $4,
				updated_at = now()
			WHERE id = $1 AND status = $2
			RETURNING`+appointmentColumns, id, from, to, reason)
	} else {
		row = tx.QueryRow(ctx, `
			UPDATE appointments
			SET status = $3,
				updated_at = now()
			WHERE id = $1 AND status = $2
			RETURNING`+appointmentColumns, id, from, to)
	}

	appt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Row gone or status moved underneath us; the caller re-reads.
			return model.Appointment{}, booking.ErrStatusChanged
		}
		return model.Appointment{}, err
	}

	if to == model.StatusCancelled {
		if err := r.reminders.CancelForAppointment(ctx, tx, id); err != nil {
			return model.Appointment{}, err
		}
	}
	for _, evt := range events {
		if err := r.outbox.Insert(ctx, tx, evt); err != nil {
			return model.Appointment{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

func (r *AppointmentRepository) ListByClient(ctx context.Context, clientID string, limit int) ([]model.Appointment, error) {
	return r.list(ctx, `client_id`, clientID, limit)
}

func (r *AppointmentRepository) ListByProvider(ctx context.Context, providerID string, limit int) ([]model.Appointment, error) {
	return r.list(ctx, `provider_id`, providerID, limit)
}

func (r *AppointmentRepository) list(ctx context.Context, column, value string, limit int) ([]model.Appointment, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE `+column+` = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, value, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAppointments(rows)
}

func (r *AppointmentRepository) SetPaymentStatus(ctx context.Context, id, paymentStatus string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET payment_status = $2,
			updated_at = now()
		WHERE id = $1
	`, id, paymentStatus)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return booking.ErrNotFound
	}
	return nil
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	var cancelledAt *time.Time
	err := row.Scan(
		&appt.ID,
		&appt.ClientID,
		&appt.ProviderID,
		&appt.ServiceType,
		&appt.StartTime,
		&appt.EndTime,
		&appt.DurationMinutes,
		&appt.Status,
		&appt.HourlyRateCents,
		&appt.TotalAmountCents,
		&appt.PaymentStatus,
		&cancelledAt,
		&appt.CancellationReason,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.CancelledAt = cancelledAt
	return appt, nil
}

func scanAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

// 23P01 is exclusion_violation: the appointments no-overlap constraint.
func isExclusionViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}
