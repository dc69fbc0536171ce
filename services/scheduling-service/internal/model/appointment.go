package model

import "time"

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
)

func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusScheduled, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow:
		return Status(s), true
	}
	return "", false
}

// IsTerminal reports whether no further transitions leave this status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// ActiveStatuses are the statuses that block a provider's calendar.
var ActiveStatuses = []Status{StatusScheduled, StatusConfirmed, StatusInProgress}

// ServiceType is the kind of session being booked.
type ServiceType string

const (
	ServiceTherapySession ServiceType = "therapy_session"
	ServiceEvaluation     ServiceType = "evaluation"
	ServiceGroupSession   ServiceType = "group_session"
)

func ParseServiceType(s string) (ServiceType, bool) {
	switch ServiceType(s) {
	case ServiceTherapySession, ServiceEvaluation, ServiceGroupSession:
		return ServiceType(s), true
	}
	return "", false
}

// Appointment is the central scheduling entity. Monetary fields are
// snapshotted at creation from the provider's rate and never recomputed.
type Appointment struct {
	ID              string
	ClientID        string
	ProviderID      string
	ServiceType     ServiceType
	StartTime       time.Time
	EndTime         time.Time
	DurationMinutes int
	Status          Status

	HourlyRateCents  int64
	TotalAmountCents int64
	PaymentStatus    string

	CancelledAt        *time.Time
	CancellationReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsActive reports whether the appointment still blocks its slot.
func (a *Appointment) IsActive() bool {
	return !a.Status.IsTerminal()
}
