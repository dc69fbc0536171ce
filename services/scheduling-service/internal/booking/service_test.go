package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/careloop/caresched/services/scheduling-service/internal/directory"
	"github.com/careloop/caresched/services/scheduling-service/internal/lifecycle"
	"github.com/careloop/caresched/services/scheduling-service/internal/model"
	"github.com/careloop/caresched/services/scheduling-service/internal/outbox"
	"github.com/careloop/caresched/services/scheduling-service/internal/slot"
)

var fixedNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

const (
	clientID     = "client-1"
	providerID   = "prov-1"
	providerUser = "prov-user-1"
)

type fixture struct {
	svc   *Service
	store *memStore
	dir   *directory.StaticProvider
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	store := newMemStore()
	dir := directory.NewStaticProvider().Add(directory.ProviderRecord{
		ProviderID:            providerID,
		HourlyRateCents:       12000,
		LicenseVerified:       true,
		BackgroundCheckPassed: true,
	}, providerUser)
	svc := NewService(store, dir, slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)
	svc.now = func() time.Time { return fixedNow }
	return &fixture{svc: svc, store: store, dir: dir}
}

func clientCaller() model.Caller {
	return model.Caller{ID: clientID, Role: model.RoleClient, EmailVerified: true}
}

func providerCaller() model.Caller {
	return model.Caller{ID: providerUser, Role: model.RoleProvider, EmailVerified: true}
}

func adminCaller() model.Caller {
	return model.Caller{ID: "admin-1", Role: model.RoleAdmin, EmailVerified: true}
}

// Tomorrow at the given clock time, relative to the fixed test clock.
func tomorrow(h, m int) time.Time {
	d := fixedNow.AddDate(0, 0, 1)
	return time.Date(d.Year(), d.Month(), d.Day(), h, m, 0, 0, time.UTC)
}

func createReq(start, end time.Time) CreateRequest {
	return CreateRequest{
		ClientID:    clientID,
		ProviderID:  providerID,
		ServiceType: model.ServiceTherapySession,
		StartTime:   start,
		EndTime:     end,
	}
}

func TestCreateAppointment(t *testing.T) {
	f := newFixture(t, Config{})

	appt, err := f.svc.CreateAppointment(context.Background(), clientCaller(), createReq(tomorrow(10, 0), tomorrow(11, 0)))
	if err != nil {
		t.Fatalf("CreateAppointment failed: %v", err)
	}
	if appt.Status != model.StatusScheduled {
		t.Errorf("status = %s, want scheduled", appt.Status)
	}
	if appt.DurationMinutes != 60 {
		t.Errorf("duration = %d, want 60", appt.DurationMinutes)
	}
	if appt.HourlyRateCents != 12000 || appt.TotalAmountCents != 12000 {
		t.Errorf("rate/total = %d/%d, want 12000/12000", appt.HourlyRateCents, appt.TotalAmountCents)
	}
	if appt.PaymentStatus != "pending" {
		t.Errorf("payment status = %q, want pending", appt.PaymentStatus)
	}
	if appt.ID == "" {
		t.Error("expected assigned id")
	}

	events := f.store.eventsOfType(outbox.EventAppointmentConfirmed)
	if len(events) != 1 {
		t.Fatalf("expected 1 confirmation event, got %d", len(events))
	}
	if events[0].AggregateID != appt.ID {
		t.Errorf("event aggregate id = %s, want %s", events[0].AggregateID, appt.ID)
	}
}

func TestCreateOverlappingSlotConflicts(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	first, err := f.svc.CreateAppointment(ctx, clientCaller(), createReq(tomorrow(10, 0), tomorrow(11, 0)))
	if err != nil {
		t.Fatalf("first booking failed: %v", err)
	}

	_, err = f.svc.CreateAppointment(ctx, clientCaller(), createReq(tomorrow(10, 30), tomorrow(11, 30)))
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.ConflictingID != first.ID {
		t.Errorf("conflicting id = %s, want %s", conflict.ConflictingID, first.ID)
	}

	// Back-to-back is never a conflict.
	if _, err := f.svc.CreateAppointment(ctx, clientCaller(), createReq(tomorrow(11, 0), tomorrow(12, 0))); err != nil {
		t.Fatalf("back-to-back booking failed: %v", err)
	}
}

func TestCancelledSlotDoesNotBlock(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	first, err := f.svc.CreateAppointment(ctx, clientCaller(), createReq(tomorrow(10, 0), tomorrow(11, 0)))
	if err != nil {
		t.Fatalf("first booking failed: %v", err)
	}
	if _, err := f.svc.UpdateStatus(ctx, clientCaller(), first.ID, model.StatusCancelled, "client request"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	if _, err := f.svc.CreateAppointment(ctx, clientCaller(), createReq(tomorrow(10, 0), tomorrow(11, 0))); err != nil {
		t.Fatalf("rebooking a cancelled slot failed: %v", err)
	}
}

func TestCreateRejectsIneligibleProvider(t *testing.T) {
	f := newFixture(t, Config{})
	f.dir.Add(directory.ProviderRecord{
		ProviderID:            "prov-unverified",
		HourlyRateCents:       9000,
		LicenseVerified:       true,
		BackgroundCheckPassed: false,
	}, "")

	req := createReq(tomorrow(10, 0), tomorrow(11, 0))
	req.ProviderID = "prov-unverified"
	if _, err := f.svc.CreateAppointment(context.Background(), clientCaller(), req); !errors.Is(err, ErrProviderNotEligible) {
		t.Fatalf("expected ErrProviderNotEligible, got %v", err)
	}
}

func TestCreateUnknownProvider(t *testing.T) {
	f := newFixture(t, Config{})
	req := createReq(tomorrow(10, 0), tomorrow(11, 0))
	req.ProviderID = "prov-missing"
	if _, err := f.svc.CreateAppointment(context.Background(), clientCaller(), req); !errors.Is(err, directory.ErrProviderUnknown) {
		t.Fatalf("expected ErrProviderUnknown, got %v", err)
	}
}

func TestCreateSlotValidationPropagates(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	tests := []struct {
		name       string
		start, end time.Time
		want       error
	}{
		{"inverted interval", tomorrow(11, 0), tomorrow(10, 0), slot.ErrInvalidInterval},
		{"past start", fixedNow.Add(-time.Hour), fixedNow.Add(time.Hour), slot.ErrPastBooking},
		{"beyond horizon", fixedNow.AddDate(0, 0, 91), fixedNow.AddDate(0, 0, 91).Add(time.Hour), slot.ErrBookingTooFarOut},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateAppointment(ctx, clientCaller(), createReq(tt.start, tt.end))
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCreateCallerChecks(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	req := createReq(tomorrow(10, 0), tomorrow(11, 0))

	stranger := model.Caller{ID: "client-2", Role: model.RoleClient, EmailVerified: true}
	if _, err := f.svc.CreateAppointment(ctx, stranger, req); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden booking for another client, got %v", err)
	}

	unverified := model.Caller{ID: clientID, Role: model.RoleClient, EmailVerified: false}
	if _, err := f.svc.CreateAppointment(ctx, unverified, req); !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("expected ErrEmailNotVerified, got %v", err)
	}

	// Admins may book on behalf of any client.
	if _, err := f.svc.CreateAppointment(ctx, adminCaller(), req); err != nil {
		t.Fatalf("admin booking failed: %v", err)
	}
}

func TestTotalAmountImmuneToRateChanges(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	appt, err := f.svc.CreateAppointment(ctx, clientCaller(), createReq(tomorrow(10, 0), tomorrow(11, 0)))
	if err != nil {
		t.Fatalf("CreateAppointment failed: %v", err)
	}

	// The provider doubles their rate after the booking.
	f.dir.Add(directory.ProviderRecord{
		ProviderID:            providerID,
		HourlyRateCents:       24000,
		LicenseVerified:       true,
		BackgroundCheckPassed: true,
	}, providerUser)

	got, err := f.svc.Get(ctx, clientCaller(), appt.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.TotalAmountCents != 12000 || got.HourlyRateCents != 12000 {
		t.Fatalf("snapshotted amounts changed: %+v", got)
	}

	// A new booking picks up the new rate.
	appt2, err := f.svc.CreateAppointment(ctx, clientCaller(), createReq(tomorrow(14, 0), tomorrow(15, 0)))
	if err != nil {
		t.Fatalf("second booking failed: %v", err)
	}
	if appt2.TotalAmountCents != 24000 {
		t.Fatalf("second booking total = %d, want 24000", appt2.TotalAmountCents)
	}
}

func TestConcurrentCreateBooksExactlyOne(t *testing.T) {
	f := newFixture(t, Config{})
	req := createReq(tomorrow(10, 0), tomorrow(11, 0))

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.CreateAppointment(context.Background(), clientCaller(), req)
		}(i)
	}
	wg.Wait()

	var created, conflicted int
	for _, err := range errs {
		switch {
		case err == nil:
			created++
		default:
			var conflict *ConflictError
			if !errors.As(err, &conflict) {
				t.Fatalf("unexpected error: %v", err)
			}
			conflicted++
		}
	}
	if created != 1 {
		t.Fatalf("created = %d, want exactly 1 (conflicted %d)", created, conflicted)
	}
}

func TestUpdateStatusLifecyclePath(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	appt, err := f.svc.CreateAppointment(ctx, clientCaller(), createReq(tomorrow(10, 0), tomorrow(11, 0)))
	if err != nil {
		t.Fatalf("CreateAppointment failed: %v", err)
	}

	for _, next := range []model.Status{model.StatusConfirmed, model.StatusInProgress, model.StatusCompleted} {
		updated, err := f.svc.UpdateStatus(ctx, providerCaller(), appt.ID, next, "")
		if err != nil {
			t.Fatalf("transition to %s failed: %v", next, err)
		}
		if updated.Status != next {
			t.Fatalf("status = %s, want %s", updated.Status, next)
		}
	}
}

func TestUpdateStatusSkippingStatesFails(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	appt, err := f.svc.CreateAppointment(ctx, clientCaller(), createReq(tomorrow(10, 0), tomorrow(11, 0)))
	if err != nil {
		t.Fatalf("CreateAppointment failed: %v", err)
	}

	_, err = f.svc.UpdateStatus(ctx, clientCaller(), appt.ID, model.StatusCompleted, "")
	var te *lifecycle.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if te.From != model.StatusScheduled || te.To != model.StatusCompleted {
		t.Fatalf("error names wrong statuses: %+v", te)
	}
}

func TestCancelSetsFieldsAndEmits(t *testing.T) {
	f := newFixture(t, Config{ReminderOffsets: []time.Duration{2 * time.Hour}})
	ctx := context.Background()

	appt, err := f.svc.CreateAppointment(ctx, clientCaller(), createReq(tomorrow(10, 0), tomorrow(11, 0)))
	if err != nil {
		t.Fatalf("CreateAppointment failed: %v", err)
	}
	if len(f.store.jobsFor(appt.ID)) == 0 {
		t.Fatal("expected reminder jobs after booking")
	}

	updated, err := f.svc.UpdateStatus(ctx, clientCaller(), appt.ID, model.StatusCancelled, "schedule change")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if updated.CancelledAt == nil {
		t.Error("cancelled_at not set")
	}
	if updated.CancellationReason != "schedule change" {
		t.Errorf("reason = %q", updated.CancellationReason)
	}
	if got := f.store.eventsOfType(outbox.EventAppointmentCancelled); len(got) != 1 {
		t.Fatalf("expected 1 cancellation event, got %d", len(got))
	}
	if jobs := f.store.jobsFor(appt.ID); len(jobs) != 0 {
		t.Fatalf("expected pending reminders dropped, got %d", len(jobs))
	}

	// Terminal states have no outgoing transitions, cancelling again fails.
	_, err = f.svc.UpdateStatus(ctx, clientCaller(), appt.ID, model.StatusCancelled, "again")
	var te *lifecycle.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransitionError on repeated cancel, got %v", err)
	}
}

func TestUpdateStatusAuthz(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	appt, err := f.svc.CreateAppointment(ctx, clientCaller(), createReq(tomorrow(10, 0), tomorrow(11, 0)))
	if err != nil {
		t.Fatalf("CreateAppointment failed: %v", err)
	}

	stranger := model.Caller{ID: "client-2", Role: model.RoleClient, EmailVerified: true}
	if _, err := f.svc.UpdateStatus(ctx, stranger, appt.ID, model.StatusCancelled, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for stranger, got %v", err)
	}

	otherProvider := model.Caller{ID: "prov-user-2", Role: model.RoleProvider, EmailVerified: true}
	if _, err := f.svc.UpdateStatus(ctx, otherProvider, appt.ID, model.StatusConfirmed, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for unrelated provider, got %v", err)
	}

	// The booked provider and admins may act.
	if _, err := f.svc.UpdateStatus(ctx, providerCaller(), appt.ID, model.StatusConfirmed, ""); err != nil {
		t.Fatalf("provider transition failed: %v", err)
	}
	if _, err := f.svc.UpdateStatus(ctx, adminCaller(), appt.ID, model.StatusCancelled, "admin action"); err != nil {
		t.Fatalf("admin transition failed: %v", err)
	}
}

func TestUpdateStatusNotFound(t *testing.T) {
	f := newFixture(t, Config{})
	if _, err := f.svc.UpdateStatus(context.Background(), adminCaller(), "missing-id", model.StatusConfirmed, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListAuthz(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	if _, err := f.svc.CreateAppointment(ctx, clientCaller(), createReq(tomorrow(10, 0), tomorrow(11, 0))); err != nil {
		t.Fatalf("CreateAppointment failed: %v", err)
	}

	appts, err := f.svc.List(ctx, clientCaller(), ListFilter{ClientID: clientID})
	if err != nil {
		t.Fatalf("client list failed: %v", err)
	}
	if len(appts) != 1 {
		t.Fatalf("expected 1 appointment, got %d", len(appts))
	}

	if _, err := f.svc.List(ctx, clientCaller(), ListFilter{ClientID: "client-2"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden listing another client, got %v", err)
	}

	appts, err = f.svc.List(ctx, providerCaller(), ListFilter{ProviderID: providerID})
	if err != nil {
		t.Fatalf("provider list failed: %v", err)
	}
	if len(appts) != 1 {
		t.Fatalf("expected 1 appointment, got %d", len(appts))
	}

	if _, err := f.svc.List(ctx, clientCaller(), ListFilter{}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for empty filter, got %v", err)
	}
}

func TestFreeSlots(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	if _, err := f.svc.CreateAppointment(ctx, clientCaller(), createReq(tomorrow(10, 0), tomorrow(11, 0))); err != nil {
		t.Fatalf("CreateAppointment failed: %v", err)
	}

	slots, err := f.svc.FreeSlots(ctx, providerID, tomorrow(9, 0), tomorrow(12, 0), time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("FreeSlots failed: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("expected 2 free slots, got %d: %v", len(slots), slots)
	}
	if !slots[0].Equal(tomorrow(9, 0)) || !slots[1].Equal(tomorrow(11, 0)) {
		t.Fatalf("unexpected slots: %v", slots)
	}
}

func TestApplyPaymentStatus(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	appt, err := f.svc.CreateAppointment(ctx, clientCaller(), createReq(tomorrow(10, 0), tomorrow(11, 0)))
	if err != nil {
		t.Fatalf("CreateAppointment failed: %v", err)
	}

	if err := f.svc.ApplyPaymentStatus(ctx, appt.ID, "captured"); err != nil {
		t.Fatalf("ApplyPaymentStatus failed: %v", err)
	}
	got, err := f.svc.Get(ctx, clientCaller(), appt.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.PaymentStatus != "captured" {
		t.Fatalf("payment status = %q, want captured", got.PaymentStatus)
	}
	if got.Status != model.StatusScheduled {
		t.Fatalf("payment status change must not touch lifecycle, status = %s", got.Status)
	}

	// Unknown tags are logged and dropped, not persisted.
	if err := f.svc.ApplyPaymentStatus(ctx, appt.ID, "gibberish"); err != nil {
		t.Fatalf("unknown tag should be ignored, got %v", err)
	}
	got, _ = f.svc.Get(ctx, clientCaller(), appt.ID)
	if got.PaymentStatus != "captured" {
		t.Fatalf("payment status changed by unknown tag: %q", got.PaymentStatus)
	}
}
