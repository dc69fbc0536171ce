// Package lifecycle holds the appointment status transition rules.
package lifecycle

import (
	"fmt"

	"github.com/careloop/caresched/services/scheduling-service/internal/model"
)

// TransitionError names both sides of a rejected status change.
type TransitionError struct {
	From model.Status
	To   model.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal status transition from %q to %q", e.From, e.To)
}

// transitions is the full table of permitted status changes. Terminal
// states have no outgoing transitions, including to themselves, so a
// repeated cancel fails the same way any other illegal transition does.
//
// no_show appears in the status enum but nothing transitions into it;
// the product path that would produce it was never wired up and we keep
// it unreachable rather than guessing at intent.
var transitions = map[model.Status][]model.Status{
	model.StatusScheduled:  {model.StatusConfirmed, model.StatusCancelled},
	model.StatusConfirmed:  {model.StatusInProgress, model.StatusCancelled},
	model.StatusInProgress: {model.StatusCompleted, model.StatusCancelled},
	model.StatusCompleted:  {},
	model.StatusCancelled:  {},
	model.StatusNoShow:     {},
}

// CanTransition returns nil when from -> to is in the table, otherwise a
// *TransitionError.
func CanTransition(from, to model.Status) error {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return &TransitionError{From: from, To: to}
}
