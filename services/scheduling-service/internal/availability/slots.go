package availability

import "time"

// FreeSlots returns slot start times within [windowStart, windowEnd)
// where a session of length duration would not overlap any busy interval.
// Starts in the past (before now) are skipped.
//
// All times are expected to be in the same location.
func FreeSlots(windowStart, windowEnd time.Time, duration, step time.Duration, busy []Interval, now time.Time) []time.Time {
	if duration <= 0 || step <= 0 {
		return nil
	}
	if !windowEnd.After(windowStart) {
		return nil
	}
	if windowStart.Add(duration).After(windowEnd) {
		return nil
	}

	var slots []time.Time
	for t := windowStart; !t.Add(duration).After(windowEnd); t = t.Add(step) {
		if t.Before(now) {
			continue
		}
		if !busyAny(t, t.Add(duration), busy) {
			slots = append(slots, t)
		}
	}
	return slots
}

func busyAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		if Overlaps(start, end, b.Start, b.End) {
			return true
		}
	}
	return false
}
