// Package dispatch executes media commands received from the bus against
// the media service, reconnecting and retrying when the connection drops.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"caracas/internal/command"
	"caracas/internal/metrics"
)

// DefaultBackoff is the pause between consecutive failed connection attempts.
const DefaultBackoff = time.Second

// State of the dispatcher.
type State int

const (
	Disconnected State = iota
	ConnectedIdle
	ConnectedPending
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case ConnectedIdle:
		return "idle"
	case ConnectedPending:
		return "pending"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config for a Dispatcher.
type Config struct {
	Connect Connector
	Source  Receiver
	Backoff time.Duration
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Sleep waits between connection attempts; it returns early with the
	// context error on cancellation. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Dispatcher is the command state machine. It runs on a single goroutine;
// none of its methods are safe for concurrent use.
type Dispatcher struct {
	connect Connector
	source  Receiver
	backoff time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
	sleep   func(ctx context.Context, d time.Duration) error

	svc      Service
	pending  command.Command
	failures int

	// navigation target resolved for the pending command; a retry after
	// a partial queue replacement must not re-read it from a cleared queue
	target   string
	resolved bool
}

func New(cfg Config) *Dispatcher {
	d := &Dispatcher{
		connect: cfg.Connect,
		source:  cfg.Source,
		backoff: cfg.Backoff,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		sleep:   cfg.Sleep,
	}
	if d.backoff <= 0 {
		d.backoff = DefaultBackoff
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.sleep == nil {
		d.sleep = sleepContext
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// State reports the current state.
func (d *Dispatcher) State() State {
	switch {
	case d.svc == nil:
		return Disconnected
	case d.pending != nil:
		return ConnectedPending
	default:
		return ConnectedIdle
	}
}

// Run loops until ctx is cancelled or the bus fails. Cancellation returns nil.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.disconnect()

	for {
		if err := d.Step(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Step performs one transition: a connection attempt when disconnected, a
// bus receive when idle, or an execution attempt when a command is pending.
// It only returns an error for bus failures and cancellation.
func (d *Dispatcher) Step(ctx context.Context) error {
	switch d.State() {
	case Disconnected:
		return d.stepConnect(ctx)
	case ConnectedIdle:
		return d.stepReceive()
	default:
		d.stepExecute()
		return nil
	}
}

func (d *Dispatcher) stepConnect(ctx context.Context) error {
	// first retry is immediate, later ones wait
	if d.failures > 1 {
		if err := d.sleep(ctx, d.backoff); err != nil {
			return err
		}
	}

	d.metrics.ConnectAttempt()
	svc, err := d.connect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.failures++
		d.logger.Warn("media service connect failed",
			"error", err,
			"consecutive_failures", d.failures,
		)
		return nil
	}

	if d.failures > 0 {
		d.logger.Info("media service reconnected", "after_failures", d.failures)
	} else {
		d.logger.Info("media service connected")
	}
	d.failures = 0
	d.svc = svc
	d.metrics.SetConnected(true)
	return nil
}

func (d *Dispatcher) stepReceive() error {
	msg, err := d.source.Receive()
	if err != nil {
		return fmt.Errorf("receive command: %w", err)
	}

	cmd, err := command.ParseMessage(msg)
	if err != nil {
		d.metrics.Received("malformed")
		d.logger.Warn("ignoring malformed command", "message", string(msg), "error", err)
		return nil
	}
	d.metrics.Received("ok")
	d.logger.Debug("command received", "command", cmd.String())
	d.pending = cmd
	return nil
}

func (d *Dispatcher) stepExecute() {
	cmd := d.pending
	err := d.execute(cmd)

	switch {
	case err == nil:
		d.metrics.Command(command.Name(cmd), "ok")
		d.drop()

	case IsConnectionError(err):
		d.metrics.Command(command.Name(cmd), "retried")
		d.logger.Warn("media service connection lost, will retry command",
			"command", cmd.String(),
			"error", err,
		)
		d.disconnect()

	default:
		d.metrics.Command(command.Name(cmd), "rejected")
		d.logger.Warn("command rejected", "command", cmd.String(), "error", err)
		d.drop()
	}
}

// execute is Execute with the navigation target kept across retries of the
// same pending command.
func (d *Dispatcher) execute(cmd command.Command) error {
	tag, delta, ok := navigation(cmd)
	if !ok {
		return Execute(d.svc, cmd)
	}
	if !d.resolved {
		target, err := resolveTarget(d.svc, tag, delta)
		if err != nil {
			return err
		}
		d.target, d.resolved = target, true
	}
	return replaceQueue(d.svc, tag, d.target)
}

func (d *Dispatcher) drop() {
	d.pending = nil
	d.target, d.resolved = "", false
}

func (d *Dispatcher) disconnect() {
	if d.svc == nil {
		return
	}
	if err := d.svc.Close(); err != nil {
		d.logger.Debug("close media service", "error", err)
	}
	d.svc = nil
	d.metrics.SetConnected(false)
}

// Execute runs one command against svc.
func Execute(svc Service, cmd command.Command) error {
	switch c := cmd.(type) {
	case command.VolumeStep:
		return svc.ChangeVolume(c.Delta)
	case command.Next:
		return svc.Next()
	case command.Previous:
		return svc.Previous()
	case command.PlayPause:
		return svc.TogglePause()
	case command.Pause:
		return svc.SetPause(true)
	case command.Unpause:
		return svc.SetPause(false)
	}
	if tag, delta, ok := navigation(cmd); ok {
		return navigate(svc, tag, delta)
	}
	return fmt.Errorf("unsupported command %s", cmd)
}
