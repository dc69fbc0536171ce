// Package availability implements interval overlap detection and free
// slot computation over a provider's calendar.
package availability

import (
	"time"

	"github.com/careloop/caresched/services/scheduling-service/internal/model"
)

type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether [aStart,aEnd) and [bStart,bEnd) intersect.
// Half-open semantics: a booking starting exactly when another ends is
// not an overlap, so back-to-back sessions never conflict.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// FindConflict returns the first appointment whose interval overlaps
// [start,end), or nil. Callers pass only non-terminal appointments;
// completed, cancelled and no-show bookings never block a slot, and the
// filter belongs to the query, not to this scan.
func FindConflict(existing []model.Appointment, start, end time.Time) *model.Appointment {
	for i := range existing {
		if Overlaps(start, end, existing[i].StartTime, existing[i].EndTime) {
			return &existing[i]
		}
	}
	return nil
}
