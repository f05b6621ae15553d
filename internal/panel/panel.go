// Package panel captures the front panel: rotary encoder, its push switch,
// the power-sense line and the analog button ladder. It turns raw samples
// into bus events.
package panel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"caracas/internal/debounce"
	"caracas/internal/event"
	"caracas/internal/hw"
	"caracas/internal/ladder"
	"caracas/internal/metrics"
	"caracas/internal/rotary"
)

// Publisher sends an event to the bus.
type Publisher interface {
	Publish(ev event.Event) error
}

// Mode selects how digital pins are watched.
type Mode string

const (
	// ModeEdge blocks on pin edges (interrupt driven).
	ModeEdge Mode = "edge"
	// ModePoll samples every pin on a fixed interval.
	ModePoll Mode = "poll"
)

type pinID int

const (
	pinClick pinID = iota
	pinLeft
	pinRight
	pinPower
	numPins
)

// Config wires the channels and decoders.
type Config struct {
	Click *Channel
	Left  *Channel
	Right *Channel
	Power *Channel

	// Analog is optional; nil disables the ladder.
	Analog       *ladder.Decoder
	AnalogPeriod time.Duration

	Filter       *debounce.Filter
	Mode         Mode
	PollInterval time.Duration

	Publisher Publisher
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Panel owns every piece of decode state. All of it is touched only from
// the goroutine running Run.
type Panel struct {
	channels [numPins]*Channel
	rotary   rotary.Decoder
	analog   *ladder.Decoder

	filter       *debounce.Filter
	mode         Mode
	pollInterval time.Duration
	analogPeriod time.Duration

	pub     Publisher
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func New(cfg Config) (*Panel, error) {
	if cfg.Click == nil || cfg.Left == nil || cfg.Right == nil || cfg.Power == nil {
		return nil, errors.New("panel: all four digital channels are required")
	}
	if cfg.Publisher == nil {
		return nil, errors.New("panel: publisher is required")
	}
	p := &Panel{
		channels:     [numPins]*Channel{cfg.Click, cfg.Left, cfg.Right, cfg.Power},
		analog:       cfg.Analog,
		filter:       cfg.Filter,
		mode:         cfg.Mode,
		pollInterval: cfg.PollInterval,
		analogPeriod: cfg.AnalogPeriod,
		pub:          cfg.Publisher,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
	}
	if p.filter == nil {
		p.filter = debounce.New(debounce.Config{}, nil)
	}
	if p.mode == "" {
		p.mode = ModeEdge
	}
	if p.pollInterval <= 0 {
		p.pollInterval = 2 * time.Millisecond
	}
	if p.analogPeriod <= 0 {
		p.analogPeriod = 50 * time.Millisecond
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.rotary.Transition(p.channels[pinLeft].Active(), p.channels[pinRight].Active())
	return p, nil
}

// ==============================
// Handlers
// ==============================

// HandleRotary re-reads both encoder channels and publishes a step if the
// left channel just became active.
func (p *Panel) HandleRotary() error {
	left, right := p.channels[pinLeft], p.channels[pinRight]
	leftChanged := p.refresh(left)
	rightChanged := p.refresh(right)
	if !leftChanged && !rightChanged {
		return nil
	}
	dir, ok := p.rotary.Transition(left.Active(), right.Active())
	if !ok {
		return nil
	}
	return p.publish(dir.Event())
}

// HandleClick publishes PRESS or DEPRESS for the encoder push switch.
func (p *Panel) HandleClick() error {
	c := p.channels[pinClick]
	if !p.refresh(c) {
		return nil
	}
	state := event.StateDepress
	if c.Active() {
		state = event.StatePress
	}
	return p.publish(event.New(event.SourceRotary, state))
}

// HandlePower publishes ON or OFF for the power-sense line.
func (p *Panel) HandlePower() error {
	c := p.channels[pinPower]
	if !p.refresh(c) {
		return nil
	}
	state := event.StateOff
	if c.Active() {
		state = event.StateOn
	}
	return p.publish(event.New(event.SourcePower, state))
}

// PollAnalog samples the ladder once. ADC errors are logged and skipped.
func (p *Panel) PollAnalog() error {
	if p.analog == nil {
		return nil
	}
	events, err := p.analog.Sample()
	if err != nil {
		p.logger.Warn("analog read failed", "error", err)
		return nil
	}
	for _, ev := range events {
		if err := p.publish(ev); err != nil {
			return err
		}
	}
	return nil
}

// refresh reports whether the channel's settled level changed. Noise is
// logged and swallowed.
func (p *Panel) refresh(c *Channel) bool {
	changed, err := c.Refresh(p.filter)
	if errors.Is(err, debounce.ErrIndeterminate) {
		p.metrics.Noise(c.Name)
		p.logger.Debug("input noise", "channel", c.Name)
		return false
	}
	return changed
}

func (p *Panel) publish(ev event.Event) error {
	if err := p.pub.Publish(ev); err != nil {
		return fmt.Errorf("publish %s: %w", ev, err)
	}
	return nil
}

func (p *Panel) handle(id pinID) error {
	switch id {
	case pinClick:
		return p.HandleClick()
	case pinLeft, pinRight:
		return p.HandleRotary()
	case pinPower:
		return p.HandlePower()
	}
	return nil
}

// ==============================
// Loop
// ==============================

// Run processes inputs until ctx is cancelled (returns nil) or publishing
// fails (returns the error).
func (p *Panel) Run(ctx context.Context) error {
	analogTick := time.NewTicker(p.analogPeriod)
	defer analogTick.Stop()

	var (
		edges    <-chan pinID
		pollTick <-chan time.Time
	)
	if p.mode == ModeEdge {
		edges = p.watchEdges(ctx)
	} else {
		t := time.NewTicker(p.pollInterval)
		defer t.Stop()
		pollTick = t.C
	}

	p.logger.Info("panel running", "mode", string(p.mode), "analog", p.analog != nil)

	for {
		var err error
		select {
		case <-ctx.Done():
			return nil
		case id := <-edges:
			err = p.handle(id)
		case <-pollTick:
			err = p.pollDigital()
		case <-analogTick.C:
			err = p.PollAnalog()
		}
		if err != nil {
			return err
		}
	}
}

func (p *Panel) pollDigital() error {
	if err := p.HandleRotary(); err != nil {
		return err
	}
	if err := p.HandleClick(); err != nil {
		return err
	}
	return p.HandlePower()
}

// edgeWait bounds each wait so watchers notice cancellation.
const edgeWait = 200 * time.Millisecond

// watchEdges starts one goroutine per pin. The goroutines only wait for
// edges and forward the pin id; they never touch decode state. Pins without
// edge support are polled instead.
func (p *Panel) watchEdges(ctx context.Context) <-chan pinID {
	out := make(chan pinID, int(numPins)*4)
	for i, c := range p.channels {
		id := pinID(i)
		ep, ok := c.Pin.(hw.EdgePin)
		go func() {
			for ctx.Err() == nil {
				if ok {
					if !ep.WaitForEdge(edgeWait) {
						continue
					}
				} else {
					time.Sleep(p.pollInterval)
				}
				select {
				case out <- id:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	return out
}
