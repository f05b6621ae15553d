// Package event defines the text messages carried on the bus.
//
// A message is "<SOURCE> <STATE>". Subscribers filter by byte prefix, so a
// topic always includes the trailing space ("POWER " never matches "POWERX").
package event

import (
	"errors"
	"fmt"
	"strings"
)

// Known sources. Some are two words; the state is whatever follows them.
const (
	SourceRotary     = "ROTARY"
	SourcePower      = "POWER"
	SourceMode       = "MODE"
	SourceArrowUp    = "ARROW UP"
	SourceArrowDown  = "ARROW DOWN"
	SourceVolumeUp   = "VOLUME UP"
	SourceVolumeDown = "VOLUME DOWN"
	SourceBacklight  = "BACKLIGHT"
	SourceMPD        = "MPD"
)

const (
	StatePress   = "PRESS"
	StateDepress = "DEPRESS"
	StateOn      = "ON"
	StateOff     = "OFF"
	StateLeft    = "LEFT"
	StateRight   = "RIGHT"
)

// ErrMalformed is returned by Decode for messages that are not "<SOURCE> <STATE>".
var ErrMalformed = errors.New("malformed event")

// longest first so "VOLUME DOWN" wins over any shorter prefix
var knownSources = []string{
	SourceVolumeDown,
	SourceArrowDown,
	SourceVolumeUp,
	SourceBacklight,
	SourceArrowUp,
	SourceRotary,
	SourcePower,
	SourceMode,
	SourceMPD,
}

// Event is a single bus message.
type Event struct {
	Source string
	State  string
}

// New builds an event.
func New(source, state string) Event {
	return Event{Source: source, State: state}
}

// String renders the wire text.
func (e Event) String() string {
	return e.Source + " " + e.State
}

// Encode renders the wire bytes.
func (e Event) Encode() []byte {
	return []byte(e.String())
}

// Validate checks that the event can be encoded unambiguously.
func (e Event) Validate() error {
	if e.Source == "" || e.State == "" {
		return fmt.Errorf("%w: empty source or state", ErrMalformed)
	}
	for _, s := range []string{e.Source, e.State} {
		if strings.TrimSpace(s) != s {
			return fmt.Errorf("%w: surrounding whitespace in %q", ErrMalformed, s)
		}
		for i := 0; i < len(s); i++ {
			if s[i] < 0x20 || s[i] > 0x7e {
				return fmt.Errorf("%w: non-printable byte in %q", ErrMalformed, s)
			}
		}
	}
	return nil
}

// Decode splits wire bytes into source and state. Known multi-word sources are
// matched first; otherwise the source is everything before the first space.
func Decode(msg []byte) (Event, error) {
	text := string(msg)
	for _, src := range knownSources {
		if state, ok := strings.CutPrefix(text, src+" "); ok {
			if state == "" {
				break
			}
			return Event{Source: src, State: state}, nil
		}
	}

	src, state, ok := strings.Cut(text, " ")
	if !ok || src == "" || state == "" {
		return Event{}, fmt.Errorf("%w: %q", ErrMalformed, text)
	}
	return Event{Source: src, State: state}, nil
}

// Topic returns the subscription prefix for a source.
func Topic(source string) string {
	return source + " "
}
