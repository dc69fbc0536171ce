package booking

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("appointment not found")
	ErrForbidden           = errors.New("caller may not act on this appointment")
	ErrProviderNotEligible = errors.New("provider has not cleared verification")
	ErrEmailNotVerified    = errors.New("caller email address is not verified")

	// ErrStatusChanged is returned by Store.Transition when the row's
	// status no longer matches the expected one (lost a concurrent race).
	ErrStatusChanged = errors.New("appointment status changed concurrently")
)

// ConflictError reports that the requested slot overlaps an existing
// non-terminal booking for the same provider. ConflictingID may be empty
// when the storage constraint rejected the insert and the winning row
// could not be re-read.
type ConflictError struct {
	ConflictingID string
}

func (e *ConflictError) Error() string {
	if e.ConflictingID == "" {
		return "slot conflicts with an existing appointment"
	}
	return fmt.Sprintf("slot conflicts with appointment %s", e.ConflictingID)
}
