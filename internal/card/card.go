// Package card maps front-panel events to media commands and manages the
// system's life cycle around ignition power.
//
// Holding MODE turns the other controls into navigation keys. Losing
// ignition power starts a grace period after which music is paused and the
// machine is powered off, unless power came back, MODE was held when it was
// lost, or the keepalive file exists.
package card

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"caracas/internal/command"
	"caracas/internal/event"
)

// Publisher sends an event to the bus.
type Publisher interface {
	Publish(ev event.Event) error
}

// Topics the card subscribes to.
var Topics = []string{
	event.Topic(event.SourcePower),
	event.Topic(event.SourceMode),
	event.Topic(event.SourceRotary),
	// both buttons of each pair
	"ARROW ",
	"VOLUME ",
}

// Config tunes the mapping.
type Config struct {
	VolumeStep   int
	Repeat       time.Duration
	PowerTimeout time.Duration

	// Steps in the same direction within AccelWindow; at AccelThreshold or
	// more, volume steps are multiplied by AccelMultiplier.
	AccelWindow     time.Duration
	AccelThreshold  int
	AccelMultiplier int

	// Keepalive reports whether shutdown is inhibited.
	Keepalive func() bool
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// Card is the event mapper. It is driven from a single goroutine.
type Card struct {
	cfg    Config
	pub    Publisher
	sys    System
	logger *slog.Logger

	modeHeld       bool
	power          bool
	powerChangedAt time.Time
	shuttingDown   bool
	repeat         command.Command
	spin           spinTracker
}

func New(cfg Config, pub Publisher, sys System, logger *slog.Logger) *Card {
	if cfg.VolumeStep <= 0 {
		cfg.VolumeStep = 2
	}
	if cfg.Repeat <= 0 {
		cfg.Repeat = 100 * time.Millisecond
	}
	if cfg.AccelMultiplier < 1 {
		cfg.AccelMultiplier = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Keepalive == nil {
		cfg.Keepalive = func() bool { return false }
	}
	c := &Card{
		cfg:    cfg,
		pub:    pub,
		sys:    sys,
		logger: logger,
		// assume power at boot
		power: true,
	}
	c.powerChangedAt = cfg.Now()
	return c
}

// Boot resumes playback after startup.
func (c *Card) Boot() error {
	c.logger.Info("system booted, resuming music")
	return c.send(command.Unpause{})
}

func (c *Card) send(cmd command.Command) error {
	if err := c.pub.Publish(command.Event(cmd)); err != nil {
		return fmt.Errorf("publish %s: %w", cmd, err)
	}
	return nil
}

// Handle processes one event. Any event cancels a running repeat.
func (c *Card) Handle(ev event.Event) error {
	c.repeat = nil

	switch ev.Source {
	case event.SourceMode:
		c.handleMode(ev.State)
		return nil
	case event.SourcePower:
		return c.handlePower(ev.State)
	case event.SourceRotary:
		return c.handleRotary(ev.State)
	}

	if ev.State != event.StatePress {
		return nil
	}

	var cmd command.Command
	switch ev.Source {
	case event.SourceVolumeUp:
		if c.modeHeld {
			cmd = command.NextAlbum{}
		} else {
			cmd = command.VolumeStep{Delta: c.cfg.VolumeStep}
			c.repeat = cmd
		}
	case event.SourceVolumeDown:
		if c.modeHeld {
			cmd = command.PreviousAlbum{}
		} else {
			cmd = command.VolumeStep{Delta: -c.cfg.VolumeStep}
			c.repeat = cmd
		}
	case event.SourceArrowUp:
		if c.modeHeld {
			cmd = command.NextArtist{}
		} else {
			cmd = command.Next{}
		}
	case event.SourceArrowDown:
		if c.modeHeld {
			cmd = command.PreviousArtist{}
		} else {
			cmd = command.Previous{}
		}
	default:
		c.logger.Debug("no mapping for event", "event", ev.String())
		return nil
	}
	return c.send(cmd)
}

func (c *Card) handleMode(state string) {
	switch state {
	case event.StatePress:
		c.modeHeld = true
	case event.StateDepress:
		c.modeHeld = false
	}
}

func (c *Card) handleRotary(state string) error {
	switch state {
	case event.StateLeft:
		if c.modeHeld {
			return c.send(command.Previous{})
		}
		return c.send(command.VolumeStep{Delta: -c.volumeStep(-1)})
	case event.StateRight:
		if c.modeHeld {
			return c.send(command.Next{})
		}
		return c.send(command.VolumeStep{Delta: c.volumeStep(1)})
	case event.StatePress:
		if !c.modeHeld {
			return c.send(command.PlayPause{})
		}
	}
	return nil
}

// volumeStep scales the step when the knob is spun fast.
func (c *Card) volumeStep(direction int) int {
	if c.cfg.AccelThreshold <= 0 || c.cfg.AccelWindow <= 0 {
		return c.cfg.VolumeStep
	}
	n := c.spin.addStep(direction, c.cfg.Now(), c.cfg.AccelWindow)
	if n >= c.cfg.AccelThreshold {
		return c.cfg.VolumeStep * c.cfg.AccelMultiplier
	}
	return c.cfg.VolumeStep
}

func (c *Card) handlePower(state string) error {
	now := c.cfg.Now()
	switch state {
	case event.StateOn:
		c.logger.Info("ignition power restored, system stays up")
		c.power = true
		c.powerChangedAt = now
		c.shuttingDown = false

	case event.StateOff:
		if c.modeHeld {
			c.logger.Warn("MODE held while power was lost, system is NOT shutting down")
			c.power = true
			c.powerChangedAt = now
			return c.send(command.Pause{})
		}
		c.power = false
		c.powerChangedAt = now
		if c.canShutdown() {
			c.logger.Warn("ignition power lost, shutting down unless it returns", "timeout", c.cfg.PowerTimeout)
		} else {
			c.logger.Warn("ignition power lost, shutdown currently inhibited")
		}
	}
	return nil
}

func (c *Card) canShutdown() bool {
	return !c.power && !c.shuttingDown && !c.cfg.Keepalive()
}

// Tick runs the periodic work: the shutdown check and key repeat.
func (c *Card) Tick() error {
	if c.canShutdown() && c.cfg.Now().Sub(c.powerChangedAt) > c.cfg.PowerTimeout {
		c.shuttingDown = true
		c.repeat = nil
		if err := c.send(command.Pause{}); err != nil {
			return err
		}
		c.logger.Warn("shutting down the entire system")
		if err := c.sys.PowerOff(); err != nil {
			c.logger.Error("power off failed", "error", err)
		}
		return nil
	}

	if c.repeat != nil {
		return c.send(c.repeat)
	}
	return nil
}

// Run handles messages and ticks until ctx is done or msgs is closed.
// Publishing failures end the loop.
func (c *Card) Run(ctx context.Context, msgs <-chan []byte) error {
	tick := time.NewTicker(c.cfg.Repeat)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-msgs:
			if !ok {
				return errors.New("event stream closed")
			}
			ev, err := event.Decode(msg)
			if err != nil {
				c.logger.Warn("ignoring malformed event", "message", string(msg), "error", err)
				continue
			}
			c.logger.Debug("event received", "event", ev.String())
			if err := c.Handle(ev); err != nil {
				return err
			}

		case <-tick.C:
			if err := c.Tick(); err != nil {
				return err
			}
		}
	}
}
