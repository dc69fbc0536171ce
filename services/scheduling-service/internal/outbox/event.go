package outbox

// Event is the domain event envelope written to the outbox table. The
// Kafka topic name equals EventType (one event per topic).
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Event types emitted by the scheduling engine. Notification delivery is
// decoupled behind these topics: a slow or failing dispatcher can never
// stall or fail a booking transaction.
const (
	EventAppointmentConfirmed = "scheduling.appointment.confirmed.v1"
	EventAppointmentCancelled = "scheduling.appointment.cancelled.v1"
	EventReminderDue          = "scheduling.reminder.due.v1"
)
