package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

type statusMessage struct {
	Type string          `json:"type"`
	Ts   time.Time       `json:"ts"`
	Data json.RawMessage `json:"data"`
}

type statusData struct {
	Connected bool   `json:"connected"`
	State     string `json:"state"`
	Volume    int    `json:"volume"`
	Artist    string `json:"artist"`
	Album     string `json:"album"`
	Title     string `json:"title"`
}

// formatStatus renders one status message as a single line.
func formatStatus(raw []byte) string {
	var msg statusMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Sprintf("[TEXT] %s", raw)
	}
	var d statusData
	if err := json.Unmarshal(msg.Data, &d); err != nil {
		return fmt.Sprintf("[%s] %s", msg.Type, msg.Data)
	}
	if !d.Connected {
		return fmt.Sprintf("[%s] mpd unreachable", msg.Type)
	}
	return fmt.Sprintf("[%s] %s vol=%d %s - %s - %s", msg.Type, d.State, d.Volume, d.Artist, d.Album, d.Title)
}

func status(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	wsURL := fs.String("url", "ws://127.0.0.1:6680/status", "cmpd status WebSocket URL")
	if err := fs.Parse(args); err != nil {
		return err
	}

	u, err := url.Parse(*wsURL)
	if err != nil {
		return fmt.Errorf("invalid websocket URL: %w", err)
	}

	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := d.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", u, err)
	}
	defer conn.Close()

	done := make(chan error, 1)
	go func() {
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					done <- err
					return
				}
				done <- nil
				return
			}
			fmt.Println(formatStatus(message))
		}
	}()

	select {
	case <-ctx.Done():
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		return nil
	case err := <-done:
		return err
	}
}
