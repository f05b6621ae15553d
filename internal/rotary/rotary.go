// Package rotary decodes a two-channel quadrature encoder into direction steps.
package rotary

import "caracas/internal/event"

// Direction of one detent.
type Direction int

const (
	Left Direction = iota + 1
	Right
)

func (d Direction) String() string {
	switch d {
	case Left:
		return event.StateLeft
	case Right:
		return event.StateRight
	default:
		return "NONE"
	}
}

// Event is the bus event for one step in direction d.
func (d Direction) Event() event.Event {
	return event.New(event.SourceRotary, d.String())
}

// Decoder remembers whether the left channel was active after the previous
// transition. Only the left channel's inactive to active edge produces a
// step; the right channel's level at that moment gives the direction.
//
// Decoder is not safe for concurrent use.
type Decoder struct {
	prevLeft bool
}

// Transition feeds the settled, polarity-corrected state of both channels.
func (d *Decoder) Transition(leftActive, rightActive bool) (Direction, bool) {
	rising := leftActive && !d.prevLeft
	d.prevLeft = leftActive
	if !rising {
		return 0, false
	}
	if rightActive {
		return Left, true
	}
	return Right, true
}

// Reset forgets the previous left state.
func (d *Decoder) Reset() {
	d.prevLeft = false
}
