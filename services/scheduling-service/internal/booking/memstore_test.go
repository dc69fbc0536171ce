package booking

import (
	"context"
	"sync"
	"time"

	"github.com/careloop/caresched/services/scheduling-service/internal/availability"
	"github.com/careloop/caresched/services/scheduling-service/internal/model"
	"github.com/careloop/caresched/services/scheduling-service/internal/outbox"
	"github.com/careloop/caresched/services/scheduling-service/internal/reminders"
)

// memStore mirrors the postgres store's guarantees in memory: inserts
// are checked against active overlapping rows under one lock, the same
// way the exclusion constraint serializes them, and Transition is a
// compare-and-set.
type memStore struct {
	mu     sync.Mutex
	appts  map[string]model.Appointment
	events []outbox.Event
	jobs   []reminders.Job
}

func newMemStore() *memStore {
	return &memStore{appts: map[string]model.Appointment{}}
}

func (m *memStore) Insert(_ context.Context, appt *model.Appointment, events []outbox.Event, jobs []reminders.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.appts {
		if existing.ProviderID != appt.ProviderID || existing.Status.IsTerminal() {
			continue
		}
		if availability.Overlaps(appt.StartTime, appt.EndTime, existing.StartTime, existing.EndTime) {
			// The constraint reports the violation, not the winning row.
			return &ConflictError{}
		}
	}

	m.appts[appt.ID] = *appt
	m.events = append(m.events, events...)
	m.jobs = append(m.jobs, jobs...)
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	appt, ok := m.appts[id]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	return appt, nil
}

func (m *memStore) ListActiveOverlapping(_ context.Context, providerID string, from, to time.Time) ([]model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Appointment
	for _, a := range m.appts {
		if a.ProviderID != providerID || a.Status.IsTerminal() {
			continue
		}
		if availability.Overlaps(from, to, a.StartTime, a.EndTime) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) Transition(_ context.Context, id string, from, to model.Status, reason string, events []outbox.Event) (model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	appt, ok := m.appts[id]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	if appt.Status != from {
		return model.Appointment{}, ErrStatusChanged
	}

	now := time.Now().UTC()
	appt.Status = to
	appt.UpdatedAt = now
	if to == model.StatusCancelled {
		appt.CancelledAt = &now
		appt.CancellationReason = reason
		// Pending reminders die with the booking.
		kept := m.jobs[:0]
		for _, j := range m.jobs {
			if j.AppointmentID != id {
				kept = append(kept, j)
			}
		}
		m.jobs = kept
	}
	m.appts[id] = appt
	m.events = append(m.events, events...)
	return appt, nil
}

func (m *memStore) ListByClient(_ context.Context, clientID string, _ int) ([]model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Appointment
	for _, a := range m.appts {
		if a.ClientID == clientID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) ListByProvider(_ context.Context, providerID string, _ int) ([]model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Appointment
	for _, a := range m.appts {
		if a.ProviderID == providerID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) SetPaymentStatus(_ context.Context, id, paymentStatus string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	appt, ok := m.appts[id]
	if !ok {
		return ErrNotFound
	}
	appt.PaymentStatus = paymentStatus
	m.appts[id] = appt
	return nil
}

func (m *memStore) eventsOfType(eventType string) []outbox.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []outbox.Event
	for _, e := range m.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (m *memStore) jobsFor(appointmentID string) []reminders.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []reminders.Job
	for _, j := range m.jobs {
		if j.AppointmentID == appointmentID {
			out = append(out, j)
		}
	}
	return out
}
