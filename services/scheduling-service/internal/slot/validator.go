// Package slot validates proposed booking intervals against the booking
// window rules. Everything here is computed from the inputs alone so the
// rules can be tested against a fixed clock.
package slot

import (
	"errors"
	"time"
)

var (
	ErrInvalidInterval  = errors.New("end time must be strictly after start time")
	ErrPastBooking      = errors.New("start time is in the past")
	ErrBookingTooFarOut = errors.New("start time is beyond the booking horizon")
)

// DefaultHorizon is how far into the future a session may be booked.
const DefaultHorizon = 90 * 24 * time.Hour

// Validate checks the interval in rule order: shape first, then the past
// bound, then the horizon. The first violated rule wins.
func Validate(start, end, now time.Time, horizon time.Duration) error {
	if !end.After(start) {
		return ErrInvalidInterval
	}
	if start.Before(now) {
		return ErrPastBooking
	}
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	if start.After(now.Add(horizon)) {
		return ErrBookingTooFarOut
	}
	return nil
}
