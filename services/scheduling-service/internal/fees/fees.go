// Package fees computes the monetary terms of a booking.
package fees

// TotalCents is the session fee for an hourly rate (in cents) and a
// duration in minutes, rounded half-up to the cent. Computed exactly
// once at creation; a later change to the provider's rate never touches
// an existing appointment.
func TotalCents(hourlyRateCents int64, durationMinutes int) int64 {
	if hourlyRateCents <= 0 || durationMinutes <= 0 {
		return 0
	}
	return (hourlyRateCents*int64(durationMinutes) + 30) / 60
}
