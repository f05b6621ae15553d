package statusws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Message types.
const (
	TypeInit    = "status_init"
	TypeChanged = "status_changed"
)

// envelope is the wire format of every message.
type envelope struct {
	Type string    `json:"type"`
	Ts   time.Time `json:"ts"`
	Data any       `json:"data,omitempty"`
}

func encode(typ string, data any) ([]byte, error) {
	return json.Marshal(envelope{Type: typ, Ts: time.Now().UTC(), Data: data})
}

// Server upgrades HTTP requests and registers clients with its hub.
type Server struct {
	logger  *slog.Logger
	hub     *Hub
	current func() any
}

// NewServer builds a server. current returns the snapshot sent on connect.
func NewServer(logger *slog.Logger, cfg HubConfig, current func() any) *Server {
	return &Server{
		logger:  logger,
		hub:     NewHub(logger, cfg),
		current: current,
	}
}

func (s *Server) Hub() *Hub { return s.hub }

// Register mounts the WebSocket handler on mux at path.
func (s *Server) Register(mux *http.ServeMux, path string) {
	mux.HandleFunc(path, s.handle)
}

var upgrader = websocket.Upgrader{
	// the display runs on the same box but from a file:// origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("status ws upgrade failed", "error", err)
		return
	}

	client := newClient(s.hub, conn, r.RemoteAddr, s.logger)

	// queue the snapshot before registering so it is the first frame out
	if s.current != nil {
		msg, err := encode(TypeInit, s.current())
		if err != nil {
			s.logger.Warn("status ws encode init failed", "error", err)
		} else {
			client.send <- msg
		}
	}
	s.hub.register <- client

	// pump lifetime is tied to the connection, not the request context
	go client.writePump()
	go client.readPump()
}

// coalesceWindow bounds how often status changes go out; the latest one in
// a window wins.
const coalesceWindow = 100 * time.Millisecond

// RunBroadcaster forwards values from src to every client as status_changed,
// coalescing bursts. It returns when ctx is done or src is closed.
func RunBroadcaster[T any](ctx context.Context, hub *Hub, src <-chan T, logger *slog.Logger) {
	var (
		pending *T
		timer   *time.Timer
		timerC  <-chan time.Time
	)

	flush := func() {
		if pending == nil {
			return
		}
		msg, err := encode(TypeChanged, *pending)
		pending = nil
		if err != nil {
			logger.Warn("status broadcaster marshal failed", "error", err)
			return
		}
		hub.BroadcastBytes(msg)
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case <-timerC:
			flush()
			timer, timerC = nil, nil

		case v, ok := <-src:
			if !ok {
				flush()
				return
			}
			pending = &v
			if timer == nil {
				timer = time.NewTimer(coalesceWindow)
				timerC = timer.C
			}
		}
	}
}
