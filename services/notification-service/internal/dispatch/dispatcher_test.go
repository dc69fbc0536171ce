package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/careloop/caresched/services/notification-service/internal/storage"
)

type fakeContacts map[string]storage.Contact

func (f fakeContacts) GetContact(_ context.Context, userID string) (storage.Contact, error) {
	c, ok := f[userID]
	if !ok {
		return storage.Contact{}, storage.ErrContactUnknown
	}
	return c, nil
}

type fakeEmail struct {
	sent []string // "to|subject|body"
	err  error
}

func (f *fakeEmail) Send(to, subject, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, to+"|"+subject+"|"+body)
	return nil
}

type fakeSMS struct {
	sent []string
}

func (f *fakeSMS) Send(_ context.Context, to, body string) error {
	f.sent = append(f.sent, to+"|"+body)
	return nil
}

func (f *fakeSMS) ProviderID() string { return "sms-fake" }

type fakeRecorder struct {
	rows []storage.Notification
}

func (f *fakeRecorder) Insert(_ context.Context, n storage.Notification) error {
	f.rows = append(f.rows, n)
	return nil
}

func confirmedPayload(t *testing.T, recipients ...string) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"recipient_ids": recipients,
		"summary": map[string]any{
			"appointment_id":     "appt-1",
			"client_id":          "client-1",
			"provider_id":        "prov-1",
			"service_type":       "therapy_session",
			"start_time":         "2026-03-10T10:00:00Z",
			"end_time":           "2026-03-10T10:50:00Z",
			"duration_minutes":   50,
			"total_amount_cents": 10000,
		},
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return raw
}

func newDispatcher(contacts fakeContacts) (*Dispatcher, *fakeEmail, *fakeSMS, *fakeRecorder) {
	em := &fakeEmail{}
	sm := &fakeSMS{}
	rec := &fakeRecorder{}
	d := New(contacts, em, sm, rec, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return d, em, sm, rec
}

func TestHandleConfirmedSendsToEachRecipient(t *testing.T) {
	contacts := fakeContacts{
		"client-1": {UserID: "client-1", DisplayName: "Ana", Email: "ana@example.com"},
		"prov-1":   {UserID: "prov-1", Email: "dr@example.com"},
	}
	d, em, _, rec := newDispatcher(contacts)

	err := d.Handle(context.Background(), EventConfirmed, confirmedPayload(t, "client-1", "prov-1"))
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if len(em.sent) != 2 {
		t.Fatalf("expected 2 emails, got %d", len(em.sent))
	}
	if !strings.Contains(em.sent[0], "Hello Ana") {
		t.Fatalf("expected greeting with display name, got %q", em.sent[0])
	}
	if !strings.Contains(em.sent[0], "$100.00") {
		t.Fatalf("expected amount in body, got %q", em.sent[0])
	}
	if len(rec.rows) != 2 || rec.rows[0].Status != "sent" {
		t.Fatalf("expected 2 sent rows, got %+v", rec.rows)
	}
}

func TestHandlePrefersSMSWhenConfigured(t *testing.T) {
	contacts := fakeContacts{
		"client-1": {UserID: "client-1", Email: "ana@example.com", Phone: "+15550001", PreferredChannel: "sms"},
	}
	d, em, sm, rec := newDispatcher(contacts)

	if err := d.Handle(context.Background(), EventReminderDue, confirmedPayload(t, "client-1")); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if len(sm.sent) != 1 || len(em.sent) != 0 {
		t.Fatalf("expected sms delivery, got sms=%d email=%d", len(sm.sent), len(em.sent))
	}
	if rec.rows[0].Channel != "sms" || rec.rows[0].Recipient != "+15550001" {
		t.Fatalf("unexpected row: %+v", rec.rows[0])
	}
}

func TestHandleSkipsUnknownContacts(t *testing.T) {
	contacts := fakeContacts{
		"client-1": {UserID: "client-1", Email: "ana@example.com"},
	}
	d, em, _, rec := newDispatcher(contacts)

	if err := d.Handle(context.Background(), EventConfirmed, confirmedPayload(t, "ghost", "client-1")); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if len(em.sent) != 1 || len(rec.rows) != 1 {
		t.Fatalf("expected unknown recipient skipped, got emails=%d rows=%d", len(em.sent), len(rec.rows))
	}
}

func TestHandleRecordsSendFailure(t *testing.T) {
	contacts := fakeContacts{
		"client-1": {UserID: "client-1", Email: "ana@example.com"},
	}
	d, em, _, rec := newDispatcher(contacts)
	em.err = errors.New("smtp down")

	if err := d.Handle(context.Background(), EventConfirmed, confirmedPayload(t, "client-1")); err != nil {
		t.Fatalf("send failures must not propagate: %v", err)
	}
	if len(rec.rows) != 1 || rec.rows[0].Status != "failed" || rec.rows[0].FailureReason != "smtp down" {
		t.Fatalf("expected failed row, got %+v", rec.rows)
	}
}

func TestHandleCancelledIncludesReason(t *testing.T) {
	contacts := fakeContacts{
		"client-1": {UserID: "client-1", Email: "ana@example.com"},
	}
	d, em, _, _ := newDispatcher(contacts)

	var payload map[string]any
	if err := json.Unmarshal(confirmedPayload(t, "client-1"), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	payload["reason"] = "provider unavailable"
	raw, _ := json.Marshal(payload)

	if err := d.Handle(context.Background(), EventCancelled, raw); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if len(em.sent) != 1 || !strings.Contains(em.sent[0], "provider unavailable") {
		t.Fatalf("expected reason in body, got %v", em.sent)
	}
}

func TestHandleIgnoresMalformedPayload(t *testing.T) {
	d, em, _, rec := newDispatcher(fakeContacts{})

	if err := d.Handle(context.Background(), EventConfirmed, []byte("{not json")); err != nil {
		t.Fatalf("malformed payload must be dropped, got %v", err)
	}
	if len(em.sent) != 0 || len(rec.rows) != 0 {
		t.Fatal("expected no deliveries for malformed payload")
	}
}
