// Package command is the media-control vocabulary carried on the bus under
// the "MPD " topic.
package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"caracas/internal/event"
)

var (
	// ErrUnknownCommand is returned when no vocabulary entry matches.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrBadArgument is returned for missing, extra or malformed arguments.
	ErrBadArgument = errors.New("bad command argument")
)

// ==============================
// Commands
// ==============================

// Command is one media-control request.
type Command interface {
	commandMarker()
	// String is the wire text without the "MPD " topic.
	String() string
}

// VolumeStep changes the volume by Delta percent points.
type VolumeStep struct {
	Delta int
}

func (VolumeStep) commandMarker() {}
func (c VolumeStep) String() string {
	return "VOLUME STEP " + strconv.Itoa(c.Delta)
}

// Next skips to the next track.
type Next struct{}

func (Next) commandMarker() {}
func (Next) String() string { return "NEXT" }

// Previous goes back one track.
type Previous struct{}

func (Previous) commandMarker() {}
func (Previous) String() string { return "PREV" }

// PlayPause toggles between playing and paused.
type PlayPause struct{}

func (PlayPause) commandMarker() {}
func (PlayPause) String() string { return "PLAY OR PAUSE" }

// Pause pauses playback.
type Pause struct{}

func (Pause) commandMarker() {}
func (Pause) String() string { return "PAUSE" }

// Unpause resumes playback.
type Unpause struct{}

func (Unpause) commandMarker() {}
func (Unpause) String() string { return "UNPAUSE" }

// NextArtist replaces the queue with the next artist in sorted order.
type NextArtist struct{}

func (NextArtist) commandMarker() {}
func (NextArtist) String() string { return "NEXT ARTIST" }

// PreviousArtist replaces the queue with the previous artist in sorted order.
type PreviousArtist struct{}

func (PreviousArtist) commandMarker() {}
func (PreviousArtist) String() string { return "PREV ARTIST" }

// NextAlbum replaces the queue with the next album in sorted order.
type NextAlbum struct{}

func (NextAlbum) commandMarker() {}
func (NextAlbum) String() string { return "NEXT ALBUM" }

// PreviousAlbum replaces the queue with the previous album in sorted order.
type PreviousAlbum struct{}

func (PreviousAlbum) commandMarker() {}
func (PreviousAlbum) String() string { return "PREV ALBUM" }

// ==============================
// Parsing
// ==============================

type entry struct {
	prefix string
	parse  func(arg string) (Command, error)
}

func noArg(c Command) func(string) (Command, error) {
	return func(arg string) (Command, error) {
		if arg != "" {
			return nil, fmt.Errorf("%w: %s takes no argument (got %q)", ErrBadArgument, c, arg)
		}
		return c, nil
	}
}

func parseVolumeStep(arg string) (Command, error) {
	if arg == "" || strings.ContainsRune(arg, ' ') {
		return nil, fmt.Errorf("%w: VOLUME STEP needs one integer (got %q)", ErrBadArgument, arg)
	}
	n, err := strconv.Atoi(arg)
	if err != nil {
		return nil, fmt.Errorf("%w: VOLUME STEP %q: %v", ErrBadArgument, arg, err)
	}
	return VolumeStep{Delta: n}, nil
}

// vocabulary is ordered longest prefix first; "NEXT ARTIST" must be tried
// before "NEXT".
var vocabulary = []entry{
	{"PLAY OR PAUSE", noArg(PlayPause{})},
	{"VOLUME STEP", parseVolumeStep},
	{"NEXT ARTIST", noArg(NextArtist{})},
	{"PREV ARTIST", noArg(PreviousArtist{})},
	{"NEXT ALBUM", noArg(NextAlbum{})},
	{"PREV ALBUM", noArg(PreviousAlbum{})},
	{"UNPAUSE", noArg(Unpause{})},
	{"PAUSE", noArg(Pause{})},
	{"NEXT", noArg(Next{})},
	{"PREV", noArg(Previous{})},
}

// Parse reads command text without the topic. A prefix only matches on a
// word boundary.
func Parse(text string) (Command, error) {
	text = strings.TrimSpace(text)
	for _, e := range vocabulary {
		rest, ok := strings.CutPrefix(text, e.prefix)
		if !ok {
			continue
		}
		if rest != "" && rest[0] != ' ' {
			continue
		}
		return e.parse(strings.TrimSpace(rest))
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, text)
}

// ParseMessage reads a full bus message, "MPD <command>".
func ParseMessage(msg []byte) (Command, error) {
	text, ok := strings.CutPrefix(string(msg), event.Topic(event.SourceMPD))
	if !ok {
		return nil, fmt.Errorf("%w: missing %q topic in %q", ErrUnknownCommand, event.SourceMPD, msg)
	}
	return Parse(text)
}

// Event wraps a command for publishing.
func Event(c Command) event.Event {
	return event.New(event.SourceMPD, c.String())
}

// Name is the command name without arguments, used as a metric label.
func Name(c Command) string {
	if _, ok := c.(VolumeStep); ok {
		return "VOLUME STEP"
	}
	return c.String()
}
