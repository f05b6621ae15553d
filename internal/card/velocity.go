package card

import "time"

// spinTracker tracks recent encoder steps to detect fast spinning so the
// volume step can be scaled up.
type spinTracker struct {
	recent []spinStep
}

type spinStep struct {
	at        time.Time
	direction int // +1 right, -1 left
}

// addStep records a step at now and returns how many steps in the same
// direction fall inside the window, this one included.
func (r *spinTracker) addStep(direction int, now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)

	kept := r.recent[:0]
	for _, s := range r.recent {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	kept = append(kept, spinStep{at: now, direction: direction})
	r.recent = kept

	same := 0
	for _, s := range kept {
		if s.direction == direction {
			same++
		}
	}
	return same
}
