// Package bus carries events between the daemons over ZeroMQ pub/sub.
//
// Publishers connect to the broker's publisher endpoint, subscribers to its
// subscriber endpoint, and the broker relays every message to every
// subscriber whose prefix matches. Delivery is best effort: messages sent
// while no subscriber is attached are lost.
package bus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-zeromq/zmq4"

	"caracas/internal/event"
	"caracas/internal/metrics"
)

const (
	DefaultPublisherEndpoint  = "tcp://127.0.0.1:9080"
	DefaultSubscriberEndpoint = "tcp://127.0.0.1:9090"

	dialRetry = 250 * time.Millisecond
)

// ErrClosed is returned by Receive after the subscriber was closed.
var ErrClosed = errors.New("bus: socket closed")

// ==============================
// Publisher
// ==============================

// Publisher sends events. It is safe for concurrent use.
type Publisher struct {
	mu      sync.Mutex
	sock    zmq4.Socket
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewPublisher creates a PUB socket bound to ctx; cancelling ctx closes it.
func NewPublisher(ctx context.Context, logger *slog.Logger, m *metrics.Metrics) *Publisher {
	return &Publisher{
		sock:    zmq4.NewPub(ctx, zmq4.WithDialerRetry(dialRetry)),
		logger:  logger,
		metrics: m,
	}
}

// Connect attaches to a broker's publisher endpoint.
func (p *Publisher) Connect(endpoint string) error {
	if err := p.sock.Dial(endpoint); err != nil {
		return fmt.Errorf("publisher connect %s: %w", endpoint, err)
	}
	p.logger.Info("publisher connected", "endpoint", endpoint)
	return nil
}

// Bind listens on endpoint so subscribers can connect directly.
func (p *Publisher) Bind(endpoint string) error {
	if err := p.sock.Listen(endpoint); err != nil {
		return fmt.Errorf("publisher bind %s: %w", endpoint, err)
	}
	p.logger.Info("publisher bound", "endpoint", endpoint)
	return nil
}

// Publish encodes and sends one event.
func (p *Publisher) Publish(ev event.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if err := p.PublishRaw(ev.Encode()); err != nil {
		return err
	}
	p.metrics.Published(ev.Source)
	p.logger.Debug("published", "event", ev.String())
	return nil
}

// PublishRaw sends pre-encoded bytes.
func (p *Publisher) PublishRaw(msg []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.sock.Send(zmq4.NewMsg(msg)); err != nil {
		return fmt.Errorf("publish %q: %w", msg, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.sock.Close()
}

// ==============================
// Subscriber
// ==============================

// Subscriber receives messages matching its prefixes. Receive must be called
// from one goroutine at a time.
type Subscriber struct {
	sock     zmq4.Socket
	logger   *slog.Logger
	mu       sync.Mutex
	prefixes [][]byte
}

// NewSubscriber creates a SUB socket bound to ctx. Cancelling ctx unblocks a
// pending Receive.
func NewSubscriber(ctx context.Context, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		sock:   zmq4.NewSub(ctx, zmq4.WithDialerRetry(dialRetry)),
		logger: logger,
	}
}

// Connect attaches to a broker's subscriber endpoint.
func (s *Subscriber) Connect(endpoint string) error {
	if err := s.sock.Dial(endpoint); err != nil {
		return fmt.Errorf("subscriber connect %s: %w", endpoint, err)
	}
	s.logger.Info("subscriber connected", "endpoint", endpoint)
	return nil
}

// Subscribe adds a byte-prefix filter. The empty prefix matches everything.
// Use event.Topic to include the separator.
func (s *Subscriber) Subscribe(prefix string) error {
	if err := s.sock.SetOption(zmq4.OptionSubscribe, prefix); err != nil {
		return fmt.Errorf("subscribe %q: %w", prefix, err)
	}
	s.mu.Lock()
	s.prefixes = append(s.prefixes, []byte(prefix))
	s.mu.Unlock()
	return nil
}

func (s *Subscriber) matches(msg []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.prefixes {
		if bytes.HasPrefix(msg, p) {
			return true
		}
	}
	return false
}

// Receive blocks for the next matching message.
func (s *Subscriber) Receive() ([]byte, error) {
	for {
		msg, err := s.sock.Recv()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrClosed, err)
		}
		if len(msg.Frames) == 0 {
			continue
		}
		body := bytes.Join(msg.Frames, nil)
		// the transport already filters; this keeps prefix semantics exact
		// for sockets that deliver everything
		if !s.matches(body) {
			continue
		}
		return body, nil
	}
}

func (s *Subscriber) Close() error {
	return s.sock.Close()
}

// ==============================
// Broker
// ==============================

// Broker relays between a SUB socket facing publishers and an XPUB socket
// facing subscribers. The ingress subscribes to everything; per-prefix
// filtering happens on the XPUB side, which tracks what each subscriber asked
// for. A capture tap counts relayed events.
type Broker struct {
	ctx     context.Context
	front   zmq4.Socket
	back    zmq4.Socket
	capture zmq4.Socket
	tap     zmq4.Socket
	logger  *slog.Logger
	metrics *metrics.Metrics
}

var captureSeq atomic.Uint64

// ephemeral reports whether the endpoint asks for a kernel-chosen port.
func ephemeral(endpoint string) bool {
	return strings.HasSuffix(endpoint, ":0")
}

// NewBroker binds both endpoints. Endpoints must be distinct unless both ask
// for an ephemeral port.
func NewBroker(ctx context.Context, publishers, subscribers string, logger *slog.Logger, m *metrics.Metrics) (*Broker, error) {
	if publishers == subscribers && !ephemeral(publishers) {
		return nil, fmt.Errorf("broker endpoints must differ (both %s)", publishers)
	}

	b := &Broker{ctx: ctx, logger: logger, metrics: m}

	b.front = zmq4.NewSub(ctx)
	if err := b.front.Listen(publishers); err != nil {
		b.close()
		return nil, fmt.Errorf("bind publisher endpoint %s: %w", publishers, err)
	}
	if err := b.front.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		b.close()
		return nil, fmt.Errorf("subscribe publisher endpoint: %w", err)
	}

	b.back = zmq4.NewXPub(ctx)
	if err := b.back.Listen(subscribers); err != nil {
		b.close()
		return nil, fmt.Errorf("bind subscriber endpoint %s: %w", subscribers, err)
	}

	if m != nil {
		addr := fmt.Sprintf("inproc://broker-capture-%d", captureSeq.Add(1))
		b.capture = zmq4.NewPush(ctx)
		if err := b.capture.Listen(addr); err != nil {
			b.close()
			return nil, fmt.Errorf("bind capture %s: %w", addr, err)
		}
		b.tap = zmq4.NewPull(ctx)
		if err := b.tap.Dial(addr); err != nil {
			b.close()
			return nil, fmt.Errorf("dial capture %s: %w", addr, err)
		}
	}

	logger.Info("broker bound", "publishers", b.PublisherAddr(), "subscribers", b.SubscriberAddr())
	return b, nil
}

func (b *Broker) close() {
	for _, s := range []zmq4.Socket{b.tap, b.capture, b.back, b.front} {
		if s != nil {
			s.Close()
		}
	}
}

// PublisherAddr is the bound publisher-side address (useful with port 0).
func (b *Broker) PublisherAddr() string {
	return "tcp://" + b.front.Addr().String()
}

// SubscriberAddr is the bound subscriber-side address.
func (b *Broker) SubscriberAddr() string {
	return "tcp://" + b.back.Addr().String()
}

// count reads the capture tap until it closes. Subscription control frames
// coming back from the XPUB side are not events and are skipped.
func (b *Broker) count() {
	for {
		msg, err := b.tap.Recv()
		if err != nil {
			return
		}
		ev, err := event.Decode(bytes.Join(msg.Frames, nil))
		if err != nil || ev.Validate() != nil {
			continue
		}
		b.metrics.Relayed(ev.Source)
	}
}

// Run relays until the context is cancelled or a socket fails. It returns nil
// on cancellation.
func (b *Broker) Run() error {
	defer b.close()

	if b.tap != nil {
		go b.count()
	}

	err := zmq4.NewProxy(b.ctx, b.front, b.back, b.capture).Run()
	if b.ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("broker relay: %w", err)
	}
	return nil
}
