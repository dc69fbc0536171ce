package booking

import (
	"context"
	"time"

	"github.com/careloop/caresched/services/scheduling-service/internal/model"
	"github.com/careloop/caresched/services/scheduling-service/internal/outbox"
	"github.com/careloop/caresched/services/scheduling-service/internal/reminders"
)

// Store is the engine's persistence boundary. The postgres
// implementation backs every write with the provider/interval exclusion
// constraint, so a conflicting insert that slips past the pre-check
// still fails with a *ConflictError instead of double-booking.
type Store interface {
	// Insert persists a new appointment together with its outbox events
	// and reminder jobs in a single transaction. Either everything is
	// written or nothing is.
	Insert(ctx context.Context, appt *model.Appointment, events []outbox.Event, jobs []reminders.Job) error

	Get(ctx context.Context, id string) (model.Appointment, error)

	// ListActiveOverlapping returns the provider's non-terminal
	// appointments intersecting [from, to).
	ListActiveOverlapping(ctx context.Context, providerID string, from, to time.Time) ([]model.Appointment, error)

	// Transition compare-and-sets the status: the update applies only if
	// the stored status still equals from, otherwise ErrStatusChanged.
	// A transition into Cancelled records the reason and timestamp and
	// drops pending reminders, all in the same transaction.
	Transition(ctx context.Context, id string, from, to model.Status, reason string, events []outbox.Event) (model.Appointment, error)

	ListByClient(ctx context.Context, clientID string, limit int) ([]model.Appointment, error)
	ListByProvider(ctx context.Context, providerID string, limit int) ([]model.Appointment, error)

	// SetPaymentStatus applies the payment collaborator's status tag.
	// It never touches scheduling state.
	SetPaymentStatus(ctx context.Context, id, paymentStatus string) error
}
