package booking

import (
	"encoding/json"
	"time"

	"github.com/careloop/caresched/services/scheduling-service/internal/model"
	"github.com/careloop/caresched/services/scheduling-service/internal/outbox"
	"github.com/careloop/caresched/services/scheduling-service/internal/reminders"
)

// appointmentSummary is the shared shape carried on every notification
// event. The dispatcher resolves recipient ids to contact details; the
// engine never holds them.
func appointmentSummary(appt *model.Appointment) map[string]any {
	return map[string]any{
		"appointment_id":     appt.ID,
		"client_id":          appt.ClientID,
		"provider_id":        appt.ProviderID,
		"service_type":       string(appt.ServiceType),
		"start_time":         appt.StartTime.UTC().Format(time.RFC3339),
		"end_time":           appt.EndTime.UTC().Format(time.RFC3339),
		"duration_minutes":   appt.DurationMinutes,
		"total_amount_cents": appt.TotalAmountCents,
	}
}

func confirmedEvent(appt *model.Appointment) (outbox.Event, error) {
	payload, err := json.Marshal(map[string]any{
		"recipient_ids": []string{appt.ClientID, appt.ProviderID},
		"summary":       appointmentSummary(appt),
	})
	if err != nil {
		return outbox.Event{}, err
	}
	return outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     outbox.EventAppointmentConfirmed,
		Payload:       payload,
	}, nil
}

func cancelledEvent(appt *model.Appointment, reason string) (outbox.Event, error) {
	payload, err := json.Marshal(map[string]any{
		"recipient_ids": []string{appt.ClientID, appt.ProviderID},
		"summary":       appointmentSummary(appt),
		"reason":        reason,
	})
	if err != nil {
		return outbox.Event{}, err
	}
	return outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     outbox.EventAppointmentCancelled,
		Payload:       payload,
	}, nil
}

// reminderJobs builds one job per recipient per offset, skipping remind
// times already in the past.
func reminderJobs(appt *model.Appointment, offsets []time.Duration, now time.Time) ([]reminders.Job, error) {
	var jobs []reminders.Job
	for _, offset := range offsets {
		remindAt := appt.StartTime.Add(-offset)
		if remindAt.Before(now) {
			continue
		}
		for _, recipient := range []string{appt.ClientID, appt.ProviderID} {
			payload, err := json.Marshal(map[string]any{
				"recipient_ids": []string{recipient},
				"summary":       appointmentSummary(appt),
				"remind_at":     remindAt.UTC().Format(time.RFC3339),
			})
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, reminders.Job{
				AppointmentID: appt.ID,
				RecipientID:   recipient,
				RemindAt:      remindAt,
				Payload:       payload,
			})
		}
	}
	return jobs, nil
}
