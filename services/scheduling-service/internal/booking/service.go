// Package booking is the orchestrator: the only component that creates
// or mutates appointments. It composes eligibility, slot validation,
// conflict detection, fee computation and the lifecycle state machine
// against the store.
package booking

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/careloop/caresched/services/scheduling-service/internal/availability"
	"github.com/careloop/caresched/services/scheduling-service/internal/directory"
	"github.com/careloop/caresched/services/scheduling-service/internal/fees"
	"github.com/careloop/caresched/services/scheduling-service/internal/lifecycle"
	"github.com/careloop/caresched/services/scheduling-service/internal/model"
	"github.com/careloop/caresched/services/scheduling-service/internal/outbox"
	"github.com/careloop/caresched/services/scheduling-service/internal/slot"
)

type Config struct {
	// Horizon is how far ahead a session may start. Zero means the
	// default 90 days.
	Horizon time.Duration
	// ReminderOffsets are durations before start_time at which reminders
	// go out.
	ReminderOffsets []time.Duration
}

type Service struct {
	store           Store
	dir             directory.Provider
	logger          *slog.Logger
	horizon         time.Duration
	reminderOffsets []time.Duration

	now func() time.Time // overridable for tests
}

func NewService(store Store, dir directory.Provider, logger *slog.Logger, cfg Config) *Service {
	horizon := cfg.Horizon
	if horizon <= 0 {
		horizon = slot.DefaultHorizon
	}
	return &Service{
		store:           store,
		dir:             dir,
		logger:          logger,
		horizon:         horizon,
		reminderOffsets: cfg.ReminderOffsets,
		now:             time.Now,
	}
}

type CreateRequest struct {
	ClientID    string
	ProviderID  string
	ServiceType model.ServiceType
	StartTime   time.Time
	EndTime     time.Time
}

// CreateAppointment books a slot. Checks run in order: caller rights,
// provider eligibility, slot validity, conflicts, then fee snapshot and
// persist. The outbox events ride in the insert transaction, so a
// notification can never be emitted for a booking that was not created.
func (s *Service) CreateAppointment(ctx context.Context, caller model.Caller, req CreateRequest) (model.Appointment, error) {
	if caller.Role != model.RoleAdmin {
		if caller.ID != req.ClientID {
			return model.Appointment{}, ErrForbidden
		}
		if !caller.EmailVerified {
			return model.Appointment{}, ErrEmailNotVerified
		}
	}

	provider, err := s.getProvider(ctx, req.ProviderID)
	if err != nil {
		return model.Appointment{}, err
	}
	if !provider.Eligible() {
		return model.Appointment{}, ErrProviderNotEligible
	}

	now := s.now().UTC()
	if err := slot.Validate(req.StartTime, req.EndTime, now, s.horizon); err != nil {
		return model.Appointment{}, err
	}

	existing, err := s.listActiveOverlapping(ctx, req.ProviderID, req.StartTime, req.EndTime)
	if err != nil {
		return model.Appointment{}, err
	}
	if c := availability.FindConflict(existing, req.StartTime, req.EndTime); c != nil {
		return model.Appointment{}, &ConflictError{ConflictingID: c.ID}
	}

	durationMinutes := int(req.EndTime.Sub(req.StartTime) / time.Minute)
	appt := model.Appointment{
		ID:               uuid.NewString(),
		ClientID:         req.ClientID,
		ProviderID:       req.ProviderID,
		ServiceType:      req.ServiceType,
		StartTime:        req.StartTime,
		EndTime:          req.EndTime,
		DurationMinutes:  durationMinutes,
		Status:           model.StatusScheduled,
		HourlyRateCents:  provider.HourlyRateCents,
		TotalAmountCents: fees.TotalCents(provider.HourlyRateCents, durationMinutes),
		PaymentStatus:    "pending",
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	confirmed, err := confirmedEvent(&appt)
	if err != nil {
		return model.Appointment{}, err
	}
	jobs, err := reminderJobs(&appt, s.reminderOffsets, now)
	if err != nil {
		return model.Appointment{}, err
	}

	if err := s.store.Insert(ctx, &appt, []outbox.Event{confirmed}, jobs); err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) && conflict.ConflictingID == "" {
			// The exclusion constraint caught a concurrent insert the
			// pre-check could not see. Name the winner if we can.
			if winners, lerr := s.store.ListActiveOverlapping(ctx, req.ProviderID, req.StartTime, req.EndTime); lerr == nil {
				if w := availability.FindConflict(winners, req.StartTime, req.EndTime); w != nil {
					return model.Appointment{}, &ConflictError{ConflictingID: w.ID}
				}
			}
		}
		return model.Appointment{}, err
	}

	s.logger.Info("appointment created",
		"appointment_id", appt.ID,
		"provider_id", appt.ProviderID,
		"start_time", appt.StartTime.UTC().Format(time.RFC3339),
		"total_amount_cents", appt.TotalAmountCents,
	)
	return appt, nil
}

// UpdateStatus moves an appointment through the lifecycle table. The
// write is a compare-and-set on the status read here, so two racing
// updates cannot both apply.
func (s *Service) UpdateStatus(ctx context.Context, caller model.Caller, appointmentID string, to model.Status, reason string) (model.Appointment, error) {
	appt, err := s.store.Get(ctx, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}

	if err := s.authorize(ctx, caller, &appt); err != nil {
		return model.Appointment{}, err
	}

	from := appt.Status
	if err := lifecycle.CanTransition(from, to); err != nil {
		return model.Appointment{}, err
	}

	var events []outbox.Event
	if to == model.StatusCancelled {
		evt, err := cancelledEvent(&appt, reason)
		if err != nil {
			return model.Appointment{}, err
		}
		events = append(events, evt)
	}

	updated, err := s.store.Transition(ctx, appointmentID, from, to, reason, events)
	if err != nil {
		if errors.Is(err, ErrStatusChanged) {
			current, gerr := s.store.Get(ctx, appointmentID)
			if gerr != nil {
				return model.Appointment{}, gerr
			}
			return model.Appointment{}, &lifecycle.TransitionError{From: current.Status, To: to}
		}
		return model.Appointment{}, err
	}

	s.logger.Info("appointment status updated",
		"appointment_id", appointmentID,
		"from", from,
		"to", to,
	)
	return updated, nil
}

// Get returns an appointment to one of its parties (or an admin).
func (s *Service) Get(ctx context.Context, caller model.Caller, appointmentID string) (model.Appointment, error) {
	appt, err := s.store.Get(ctx, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := s.authorize(ctx, caller, &appt); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

type ListFilter struct {
	ClientID   string
	ProviderID string
	Limit      int
}

// List returns appointments for a client or provider. Non-admin callers
// may only list their own.
func (s *Service) List(ctx context.Context, caller model.Caller, filter ListFilter) ([]model.Appointment, error) {
	switch {
	case filter.ClientID != "":
		if caller.Role != model.RoleAdmin && caller.ID != filter.ClientID {
			return nil, ErrForbidden
		}
		return s.store.ListByClient(ctx, filter.ClientID, filter.Limit)
	case filter.ProviderID != "":
		if caller.Role != model.RoleAdmin {
			own, err := s.callerProviderID(ctx, caller)
			if err != nil {
				return nil, err
			}
			if own == "" || own != filter.ProviderID {
				return nil, ErrForbidden
			}
		}
		return s.store.ListByProvider(ctx, filter.ProviderID, filter.Limit)
	default:
		return nil, ErrForbidden
	}
}

// FreeSlots lists bookable start times for a provider inside a window.
func (s *Service) FreeSlots(ctx context.Context, providerID string, windowStart, windowEnd time.Time, duration, step time.Duration) ([]time.Time, error) {
	existing, err := s.listActiveOverlapping(ctx, providerID, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	busy := make([]availability.Interval, 0, len(existing))
	for _, a := range existing {
		busy = append(busy, availability.Interval{Start: a.StartTime, End: a.EndTime})
	}
	return availability.FreeSlots(windowStart, windowEnd, duration, step, busy, s.now().UTC()), nil
}

// ApplyPaymentStatus records the payment collaborator's status tag. The
// tag never feeds back into scheduling decisions.
func (s *Service) ApplyPaymentStatus(ctx context.Context, appointmentID, paymentStatus string) error {
	switch paymentStatus {
	case "pending", "authorized", "captured", "refunded", "failed":
	default:
		s.logger.Warn("ignoring unknown payment status", "appointment_id", appointmentID, "payment_status", paymentStatus)
		return nil
	}
	return s.store.SetPaymentStatus(ctx, appointmentID, paymentStatus)
}

func (s *Service) authorize(ctx context.Context, caller model.Caller, appt *model.Appointment) error {
	callerProviderID := ""
	if caller.Role == model.RoleProvider {
		id, err := s.callerProviderID(ctx, caller)
		if err != nil {
			return err
		}
		callerProviderID = id
	}
	if !caller.CanManage(appt, callerProviderID) {
		return ErrForbidden
	}
	return nil
}

func (s *Service) callerProviderID(ctx context.Context, caller model.Caller) (string, error) {
	id, err := s.dir.ResolveProviderID(ctx, caller.ID)
	if err != nil {
		// Directory reads are idempotent; one retry for transient faults.
		id, err = s.dir.ResolveProviderID(ctx, caller.ID)
	}
	return id, err
}

func (s *Service) getProvider(ctx context.Context, providerID string) (directory.ProviderRecord, error) {
	rec, err := s.dir.GetProvider(ctx, providerID)
	if err != nil && !errors.Is(err, directory.ErrProviderUnknown) {
		rec, err = s.dir.GetProvider(ctx, providerID)
	}
	return rec, err
}

func (s *Service) listActiveOverlapping(ctx context.Context, providerID string, from, to time.Time) ([]model.Appointment, error) {
	appts, err := s.store.ListActiveOverlapping(ctx, providerID, from, to)
	if err != nil {
		appts, err = s.store.ListActiveOverlapping(ctx, providerID, from, to)
	}
	return appts, err
}
