package lifecycle

import (
	"errors"
	"testing"

	"github.com/careloop/caresched/services/scheduling-service/internal/model"
)

var allStatuses = []model.Status{
	model.StatusScheduled,
	model.StatusConfirmed,
	model.StatusInProgress,
	model.StatusCompleted,
	model.StatusCancelled,
	model.StatusNoShow,
}

func TestAllowedTransitions(t *testing.T) {
	allowed := map[[2]model.Status]bool{
		{model.StatusScheduled, model.StatusConfirmed}:   true,
		{model.StatusScheduled, model.StatusCancelled}:   true,
		{model.StatusConfirmed, model.StatusInProgress}:  true,
		{model.StatusConfirmed, model.StatusCancelled}:   true,
		{model.StatusInProgress, model.StatusCompleted}:  true,
		{model.StatusInProgress, model.StatusCancelled}:  true,
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			err := CanTransition(from, to)
			if allowed[[2]model.Status{from, to}] {
				if err != nil {
					t.Errorf("%s -> %s should be allowed, got %v", from, to, err)
				}
				continue
			}
			if err == nil {
				t.Errorf("%s -> %s should be rejected", from, to)
				continue
			}
			var te *TransitionError
			if !errors.As(err, &te) {
				t.Errorf("%s -> %s: expected *TransitionError, got %T", from, to, err)
				continue
			}
			if te.From != from || te.To != to {
				t.Errorf("error names wrong statuses: %+v", te)
			}
		}
	}
}

func TestTerminalStatesHaveNoSelfTransition(t *testing.T) {
	for _, s := range []model.Status{model.StatusCompleted, model.StatusCancelled, model.StatusNoShow} {
		if err := CanTransition(s, s); err == nil {
			t.Errorf("%s -> %s should be rejected", s, s)
		}
	}
}

func TestNoShowIsUnreachable(t *testing.T) {
	for _, from := range allStatuses {
		if err := CanTransition(from, model.StatusNoShow); err == nil {
			t.Errorf("%s -> no_show should be rejected", from)
		}
	}
}
