// Package debounce settles a noisy digital input by shifting raw samples
// into a 16-bit register until it reads all ones or all zeros.
package debounce

import (
	"errors"
	"fmt"
	"time"
)

// ErrIndeterminate is returned when the input did not hold a level for a
// full register width before the window expired.
var ErrIndeterminate = errors.New("debounce: input did not settle")

const (
	DefaultDuration = 50 * time.Millisecond
	DefaultSamples  = 50

	// seed has both levels in it so neither stable pattern matches before
	// 16 agreeing samples were shifted in.
	seed uint16 = 0xAAAA
)

// Config controls the sampling window.
type Config struct {
	Duration time.Duration
	Samples  int
}

// Validate rejects windows that cannot ever settle.
func (c Config) Validate() error {
	if c.Duration <= 0 {
		return fmt.Errorf("debounce duration must be > 0 (got %s)", c.Duration)
	}
	if c.Samples < 16 {
		return fmt.Errorf("debounce samples must be >= 16 (got %d)", c.Samples)
	}
	return nil
}

// Clock is the time source used between samples.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// RealClock is the wall clock.
var RealClock Clock = realClock{}

// Filter debounces reads. It holds no per-channel state, so one Filter can
// serve every channel as long as calls are not concurrent with each other
// on the same pin.
type Filter struct {
	cfg   Config
	clock Clock
}

// New builds a filter. Zero fields in cfg take the defaults; a nil clock is
// the wall clock.
func New(cfg Config, clock Clock) *Filter {
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultDuration
	}
	if cfg.Samples <= 0 {
		cfg.Samples = DefaultSamples
	}
	if clock == nil {
		clock = RealClock
	}
	return &Filter{cfg: cfg, clock: clock}
}

// Interval is the pause between two samples.
func (f *Filter) Interval() time.Duration {
	return f.cfg.Duration / time.Duration(f.cfg.Samples)
}

// Settle samples read until 16 consecutive samples agree and returns that
// level, or ErrIndeterminate once the window has elapsed.
func (f *Filter) Settle(read func() bool) (bool, error) {
	reg := seed
	interval := f.Interval()
	start := f.clock.Now()

	for f.clock.Now().Sub(start) < f.cfg.Duration {
		reg <<= 1
		if read() {
			reg |= 1
		}
		switch reg {
		case 0xFFFF:
			return true, nil
		case 0x0000:
			return false, nil
		}
		f.clock.Sleep(interval)
	}
	return false, ErrIndeterminate
}
