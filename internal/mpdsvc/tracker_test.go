package mpdsvc

import (
	"testing"
	"time"

	"github.com/fhs/gompd/v2/mpd"
	"github.com/stretchr/testify/assert"

	"caracas/internal/logging"
)

func TestSnapshotFrom(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	s := snapshotFrom(
		mpd.Attrs{"state": "play", "volume": "35", "elapsed": "12.5", "duration": "200.0", "song": "3", "playlistlength": "9"},
		mpd.Attrs{"Artist": "ABBA", "Album": "Gold", "Title": "SOS"},
		now,
	)

	assert.Equal(t, Snapshot{
		Connected: true,
		State:     "play",
		Volume:    35,
		Artist:    "ABBA",
		Album:     "Gold",
		Title:     "SOS",
		Elapsed:   12.5,
		Duration:  200,
		Position:  3,
		QueueLen:  9,
		UpdatedAt: now.UnixMilli(),
	}, s)
}

func TestSnapshotFromStopped(t *testing.T) {
	s := snapshotFrom(mpd.Attrs{"state": "stop", "volume": "-1"}, mpd.Attrs{}, time.Now())
	assert.Equal(t, -1, s.Volume)
	assert.Equal(t, -1, s.Position)
	assert.Empty(t, s.Title)
}

func TestTrackerNotifiesOnlyOnChange(t *testing.T) {
	var got []Snapshot
	tr := NewTracker(Config{}, logging.Discard(), func(s Snapshot) { got = append(got, s) })

	a := Snapshot{Connected: true, State: "play", Volume: 10}
	tr.set(a)
	tr.set(a)
	b := a
	b.Volume = 12
	tr.set(b)

	assert.Equal(t, []Snapshot{a, b}, got)
	assert.Equal(t, b, tr.Snapshot())
}
