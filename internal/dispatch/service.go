package dispatch

import (
	"context"
	"errors"
)

// Tag is a media library tag used for navigation.
type Tag string

const (
	TagArtist Tag = "artist"
	TagAlbum  Tag = "album"
)

var (
	// ErrConnection marks a transport-level failure. The connection is
	// dropped and the command is retried once a new one is established.
	ErrConnection = errors.New("media service connection lost")

	// ErrTagNotFound means the playing song's tag value is not in the
	// library listing, so there is nothing to step from.
	ErrTagNotFound = errors.New("current tag value not found in library")
)

// IsConnectionError reports whether err came from the transport rather than
// from the service rejecting the request.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrConnection)
}

// Service is one open connection to the media service. Implementations wrap
// transport failures with ErrConnection; any other error is taken as a
// rejection of that single request.
type Service interface {
	// ChangeVolume adds delta percent points, clamped to 0-100.
	ChangeVolume(delta int) error
	Next() error
	Previous() error
	// TogglePause pauses when playing and plays otherwise.
	TogglePause() error
	SetPause(paused bool) error

	// CurrentTag returns the tag value of the playing song.
	CurrentTag(tag Tag) (string, error)
	// TagValues lists tag values across the library, in any order and
	// possibly with duplicates.
	TagValues(tag Tag) ([]string, error)
	Clear() error
	// FindAdd queues every song whose tag equals value exactly.
	FindAdd(tag Tag, value string) error
	// Play starts playback from the head of the queue.
	Play() error

	Close() error
}

// Connector opens a new Service connection.
type Connector func(ctx context.Context) (Service, error)

// Receiver yields raw bus messages. Receive blocks until a message arrives
// or the receiver is shut down.
type Receiver interface {
	Receive() ([]byte, error)
}
