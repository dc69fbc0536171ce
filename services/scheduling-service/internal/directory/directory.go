// Package directory integrates the external provider directory. The
// engine reads eligibility and the current rate at booking time and
// never caches across requests.
package directory

import (
	"context"
	"errors"
)

var ErrProviderUnknown = errors.New("provider not found in directory")

// ProviderRecord is the narrow slice of the directory the engine reads.
type ProviderRecord struct {
	ProviderID            string
	HourlyRateCents       int64
	LicenseVerified       bool
	BackgroundCheckPassed bool
}

// Eligible reports whether the provider has cleared both verification
// gates and may accept bookings.
func (p ProviderRecord) Eligible() bool {
	return p.LicenseVerified && p.BackgroundCheckPassed
}

type Provider interface {
	// GetProvider fetches the provider's current eligibility and rate.
	GetProvider(ctx context.Context, providerID string) (ProviderRecord, error)
	// ResolveProviderID maps an authenticated user id to the provider id
	// they operate as, or "" when the user is not a provider.
	ResolveProviderID(ctx context.Context, userID string) (string, error)
}
