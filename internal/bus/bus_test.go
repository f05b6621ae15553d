package bus

import (
	"context"
	"testing"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caracas/internal/event"
	"caracas/internal/logging"
	"caracas/internal/metrics"
)

func TestSubscriberPrefixMatch(t *testing.T) {
	s := &Subscriber{}
	s.prefixes = [][]byte{[]byte(event.Topic(event.SourcePower))}

	assert.True(t, s.matches([]byte("POWER ON")))
	assert.False(t, s.matches([]byte("POWERX ON")))
	assert.False(t, s.matches([]byte("MODE PRESS")))

	s.prefixes = append(s.prefixes, []byte(""))
	assert.True(t, s.matches([]byte("MODE PRESS")), "empty prefix matches all")
}

func TestBrokerEndpointsMustDiffer(t *testing.T) {
	_, err := NewBroker(context.Background(), "tcp://127.0.0.1:9999", "tcp://127.0.0.1:9999", logging.Discard(), nil)
	assert.Error(t, err)
}

func TestBrokerAcceptsTwoEphemeralEndpoints(t *testing.T) {
	if testing.Short() {
		t.Skip("opens loopback sockets")
	}

	broker, err := NewBroker(context.Background(), "tcp://127.0.0.1:0", "tcp://127.0.0.1:0", logging.Discard(), nil)
	require.NoError(t, err)
	defer broker.close()

	assert.NotEqual(t, broker.PublisherAddr(), broker.SubscriberAddr())
}

// rawSubscriber receives straight from a zmq4 SUB socket, without the local
// prefix check Subscriber applies.
func rawSubscriber(t *testing.T, ctx context.Context, endpoint, prefix string) <-chan string {
	t.Helper()

	sock := zmq4.NewSub(ctx, zmq4.WithDialerRetry(dialRetry))
	require.NoError(t, sock.Dial(endpoint))
	require.NoError(t, sock.SetOption(zmq4.OptionSubscribe, prefix))

	out := make(chan string, 64)
	go func() {
		defer sock.Close()
		for {
			msg, err := sock.Recv()
			if err != nil {
				return
			}
			select {
			case out <- string(msg.Bytes()):
			default:
			}
		}
	}()
	return out
}

func TestBrokerRelaysByPrefix(t *testing.T) {
	if testing.Short() {
		t.Skip("opens loopback sockets")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := logging.Discard()
	m := metrics.New("busproxy")

	broker, err := NewBroker(ctx, "tcp://127.0.0.1:0", "tcp://127.0.0.1:0", logger, m)
	require.NoError(t, err)
	brokerDone := make(chan error, 1)
	go func() { brokerDone <- broker.Run() }()

	sub := NewSubscriber(ctx, logger)
	require.NoError(t, sub.Connect(broker.SubscriberAddr()))
	require.NoError(t, sub.Subscribe(event.Topic(event.SourcePower)))

	power := rawSubscriber(t, ctx, broker.SubscriberAddr(), event.Topic(event.SourcePower))
	rotary := rawSubscriber(t, ctx, broker.SubscriberAddr(), event.Topic(event.SourceRotary))

	pub := NewPublisher(ctx, logger, nil)
	require.NoError(t, pub.Connect(broker.PublisherAddr()))

	// subscriptions propagate asynchronously, so keep publishing until one
	// gets through
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				_ = pub.PublishRaw([]byte("POWERX ON"))
				_ = pub.Publish(event.New(event.SourceMode, event.StatePress))
				_ = pub.Publish(event.New(event.SourcePower, event.StateOn))
			}
		}
	}()

	got := make(chan []byte, 1)
	go func() {
		msg, err := sub.Receive()
		if err == nil {
			got <- msg
		}
	}()

	select {
	case msg := <-got:
		assert.Equal(t, "POWER ON", string(msg))
	case <-time.After(5 * time.Second):
		t.Fatal("no message relayed")
	}

	select {
	case msg := <-power:
		assert.Equal(t, "POWER ON", msg, "socket filtering drops POWERX and MODE")
	case <-time.After(5 * time.Second):
		t.Fatal("no message relayed to the raw subscriber")
	}
	for len(power) > 0 {
		assert.Equal(t, "POWER ON", <-power)
	}

	// traffic keeps flowing; nothing published matches the ROTARY prefix
	select {
	case msg := <-rotary:
		t.Fatalf("unexpected message for ROTARY subscriber: %q", msg)
	case <-time.After(300 * time.Millisecond):
	}

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.EventsRelayed.WithLabelValues(event.SourcePower)) > 0 &&
			testutil.ToFloat64(m.EventsRelayed.WithLabelValues(event.SourceMode)) > 0
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.EventsRelayed.WithLabelValues(event.SourceRotary)))

	cancel()
	select {
	case err := <-brokerDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("broker did not stop")
	}
}
