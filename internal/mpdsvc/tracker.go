package mpdsvc

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/fhs/gompd/v2/mpd"
)

// Snapshot is the last known player status.
type Snapshot struct {
	Connected bool    `json:"connected"`
	State     string  `json:"state"`
	Volume    int     `json:"volume"`
	Artist    string  `json:"artist"`
	Album     string  `json:"album"`
	Title     string  `json:"title"`
	Elapsed   float64 `json:"elapsed_sec"`
	Duration  float64 `json:"duration_sec"`
	Position  int     `json:"position"`
	QueueLen  int     `json:"queue_length"`
	UpdatedAt int64   `json:"updated_at_unix_ms"`
}

// snapshotFrom builds a Snapshot from status and currentsong replies.
// Missing or malformed numbers read as zero (volume as -1).
func snapshotFrom(status, song mpd.Attrs, now time.Time) Snapshot {
	s := Snapshot{
		Connected: true,
		State:     status["state"],
		Volume:    -1,
		Artist:    song["Artist"],
		Album:     song["Album"],
		Title:     song["Title"],
		Position:  -1,
		UpdatedAt: now.UnixMilli(),
	}
	if v, err := strconv.Atoi(status["volume"]); err == nil {
		s.Volume = v
	}
	if v, err := strconv.ParseFloat(status["elapsed"], 64); err == nil {
		s.Elapsed = v
	}
	if v, err := strconv.ParseFloat(status["duration"], 64); err == nil {
		s.Duration = v
	}
	if v, err := strconv.Atoi(status["song"]); err == nil {
		s.Position = v
	}
	if v, err := strconv.Atoi(status["playlistlength"]); err == nil {
		s.QueueLen = v
	}
	return s
}

// watchedSubsystems are the idle subsystems that change what the UI shows.
var watchedSubsystems = []string{"player", "mixer", "playlist", "options"}

const (
	trackerRetry = time.Second
	// MPD drops clients idle for longer than its connection_timeout.
	trackerPing = 20 * time.Second
)

// Tracker follows MPD's idle notifications and keeps the latest Snapshot.
// I/O never happens under the lock.
type Tracker struct {
	cfg      Config
	logger   *slog.Logger
	onChange func(Snapshot)

	mu   sync.Mutex
	snap Snapshot
}

// NewTracker creates a tracker. onChange, if set, is called from the Run
// goroutine after every update.
func NewTracker(cfg Config, logger *slog.Logger, onChange func(Snapshot)) *Tracker {
	return &Tracker{cfg: cfg, logger: logger, onChange: onChange}
}

// Snapshot returns a copy of the last known status.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

func (t *Tracker) set(s Snapshot) {
	t.mu.Lock()
	prev := t.snap
	prev.UpdatedAt = s.UpdatedAt
	changed := prev != s
	t.snap = s
	t.mu.Unlock()

	if changed && t.onChange != nil {
		t.onChange(s)
	}
}

// Run keeps a session open until ctx is cancelled, reconnecting after a
// pause whenever it fails.
func (t *Tracker) Run(ctx context.Context) error {
	for {
		err := t.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		t.logger.Warn("mpd status session ended", "error", err)
		t.set(Snapshot{Connected: false, Volume: -1, Position: -1, UpdatedAt: time.Now().UnixMilli()})

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(trackerRetry):
		}
	}
}

func (t *Tracker) session(ctx context.Context) error {
	w, err := mpd.NewWatcher("tcp", t.cfg.Address, t.cfg.Password, watchedSubsystems...)
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer w.Close()

	c, err := t.cfg.dial()
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer c.Close()

	if err := t.refresh(c); err != nil {
		return err
	}
	t.logger.Info("mpd status tracking started", "address", t.cfg.Address)

	ping := time.NewTicker(trackerPing)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case subsystem := <-w.Event:
			t.logger.Debug("mpd changed", "subsystem", subsystem)
			if err := t.refresh(c); err != nil {
				return err
			}
		case err := <-w.Error:
			return fmt.Errorf("watcher: %w", err)
		case <-ping.C:
			if err := c.Ping(); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func (t *Tracker) refresh(c *mpd.Client) error {
	status, err := c.Status()
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	song, err := c.CurrentSong()
	if err != nil {
		return fmt.Errorf("currentsong: %w", err)
	}
	t.set(snapshotFrom(status, song, time.Now()))
	return nil
}
