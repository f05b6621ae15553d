package statusws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"caracas/internal/logging"
)

// Hub tests use clients with nil conns; the hub never writes to them
// directly and guards Close against nil.

func newTestClient(hub *Hub, name string, buf int) *Client {
	return &Client{
		hub:        hub,
		send:       make(chan []byte, buf),
		remoteAddr: name,
		logger:     logging.Discard(),
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func startHub(t *testing.T, hub *Hub) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for hub to stop")
		}
	}
}

func TestHubBroadcastReachesAllClients(t *testing.T) {
	hub := NewHub(logging.Discard(), HubConfig{SendBuf: 4, BroadcastBuf: 8})
	stop := startHub(t, hub)
	defer stop()

	c1 := newTestClient(hub, "c1", 4)
	c2 := newTestClient(hub, "c2", 4)
	hub.register <- c1
	hub.register <- c2
	waitUntil(t, 500*time.Millisecond, func() bool { return hub.Clients() == 2 }, "clients not registered")

	msg := []byte(`{"type":"status_changed"}`)
	hub.broadcast <- msg

	for _, c := range []*Client{c1, c2} {
		select {
		case got := <-c.send:
			if string(got) != string(msg) {
				t.Fatalf("%s got %q, want %q", c.remoteAddr, got, msg)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("timeout waiting for %s", c.remoteAddr)
		}
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := NewHub(logging.Discard(), HubConfig{SendBuf: 1, BroadcastBuf: 8})
	stop := startHub(t, hub)
	defer stop()

	slow := newTestClient(hub, "slow", 1)
	fast := newTestClient(hub, "fast", 8)
	hub.register <- slow
	hub.register <- fast
	waitUntil(t, 500*time.Millisecond, func() bool { return hub.Clients() == 2 }, "clients not registered")

	hub.broadcast <- []byte("1")
	hub.broadcast <- []byte("2")

	waitUntil(t, 500*time.Millisecond, func() bool { return hub.Clients() == 1 }, "slow client not evicted")

	hub.mu.Lock()
	_, stillThere := hub.clients[fast]
	hub.mu.Unlock()
	if !stillThere {
		t.Fatalf("fast client was evicted")
	}
}

func TestServerSendsInitThenChanges(t *testing.T) {
	type status struct {
		State  string `json:"state"`
		Volume int    `json:"volume"`
	}

	srv := NewServer(logging.Discard(), HubConfig{}, func() any { return status{State: "pause", Volume: 30} })
	stop := startHub(t, srv.Hub())
	defer stop()

	mux := http.NewServeMux()
	srv.Register(mux, "/status")
	ts := httptest.NewServer(mux)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/status", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var init struct {
		Type string `json:"type"`
		Data status `json:"data"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&init); err != nil {
		t.Fatalf("read init: %v", err)
	}
	if init.Type != TypeInit || init.Data.State != "pause" || init.Data.Volume != 30 {
		t.Fatalf("unexpected init %+v", init)
	}

	waitUntil(t, time.Second, func() bool { return srv.Hub().Clients() == 1 }, "client not registered")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := make(chan status, 4)
	go RunBroadcaster(ctx, srv.Hub(), src, logging.Discard())

	// a burst collapses into its last value
	src <- status{State: "play", Volume: 30}
	src <- status{State: "play", Volume: 32}
	src <- status{State: "play", Volume: 34}

	var changed struct {
		Type string `json:"type"`
		Data status `json:"data"`
	}
	if err := conn.ReadJSON(&changed); err != nil {
		t.Fatalf("read change: %v", err)
	}
	if changed.Type != TypeChanged || changed.Data.Volume != 34 {
		t.Fatalf("unexpected change %+v", changed)
	}
}

func TestEncodeEnvelope(t *testing.T) {
	b, err := encode(TypeChanged, map[string]int{"volume": 5})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var env map[string]json.RawMessage
	if err := json.Unmarshal(b, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, k := range []string{"type", "ts", "data"} {
		if _, ok := env[k]; !ok {
			t.Fatalf("missing %q in %s", k, b)
		}
	}
}
