// Package mpdsvc adapts the MPD client library to the dispatcher's Service
// interface and keeps a snapshot of the player status for the UI.
package mpdsvc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"syscall"

	"github.com/fhs/gompd/v2/mpd"

	"caracas/internal/dispatch"
)

var (
	errNoMixer       = errors.New("mpd has no volume control")
	errNoCurrentSong = errors.New("nothing is playing")
)

// Config identifies the server.
type Config struct {
	Address  string
	Password string
}

func (c Config) dial() (*mpd.Client, error) {
	if c.Password != "" {
		return mpd.DialAuthenticated("tcp", c.Address, c.Password)
	}
	return mpd.Dial("tcp", c.Address)
}

// Client is one MPD connection. It is not safe for concurrent use; the
// dispatcher owns it.
type Client struct {
	c *mpd.Client
}

// Dial opens a connection.
func Dial(cfg Config) (*Client, error) {
	c, err := cfg.dial()
	if err != nil {
		return nil, fmt.Errorf("dial mpd %s: %w", cfg.Address, err)
	}
	return &Client{c: c}, nil
}

// Connector returns a dispatch.Connector dialing cfg.
func Connector(cfg Config) dispatch.Connector {
	return func(ctx context.Context) (dispatch.Service, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return Dial(cfg)
	}
}

// classify wraps transport failures with dispatch.ErrConnection so the
// dispatcher reconnects and retries. Server-side rejections pass through.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if isTransport(err) {
		return fmt.Errorf("%s: %w: %w", op, dispatch.ErrConnection, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isTransport(err error) bool {
	var netErr net.Error
	var protoErr textproto.ProtocolError
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED):
		return true
	case errors.As(err, &netErr):
		return true
	case errors.As(err, &protoErr):
		// the stream is out of sync; only a new connection recovers
		return true
	}
	return false
}

// ==============================
// dispatch.Service
// ==============================

func (c *Client) ChangeVolume(delta int) error {
	st, err := c.c.Status()
	if err != nil {
		return classify("status", err)
	}
	vol, err := strconv.Atoi(st["volume"])
	if err != nil || vol < 0 {
		return errNoMixer
	}
	return classify("setvol", c.c.SetVolume(clampVolume(vol+delta)))
}

func clampVolume(v int) int {
	return min(max(v, 0), 100)
}

func (c *Client) Next() error {
	return classify("next", c.c.Next())
}

func (c *Client) Previous() error {
	return classify("previous", c.c.Previous())
}

func (c *Client) TogglePause() error {
	st, err := c.c.Status()
	if err != nil {
		return classify("status", err)
	}
	switch st["state"] {
	case "play":
		return classify("pause", c.c.Pause(true))
	case "pause":
		return classify("pause", c.c.Pause(false))
	default:
		return classify("play", c.c.Play(-1))
	}
}

func (c *Client) SetPause(paused bool) error {
	return classify("pause", c.c.Pause(paused))
}

// songKey is the CurrentSong attribute for a tag.
func songKey(tag dispatch.Tag) string {
	switch tag {
	case dispatch.TagArtist:
		return "Artist"
	case dispatch.TagAlbum:
		return "Album"
	default:
		return string(tag)
	}
}

func (c *Client) CurrentTag(tag dispatch.Tag) (string, error) {
	song, err := c.c.CurrentSong()
	if err != nil {
		return "", classify("currentsong", err)
	}
	if len(song) == 0 {
		return "", errNoCurrentSong
	}
	v, ok := song[songKey(tag)]
	if !ok || v == "" {
		return "", fmt.Errorf("%w: current song has no %s", dispatch.ErrTagNotFound, tag)
	}
	return v, nil
}

func (c *Client) TagValues(tag dispatch.Tag) ([]string, error) {
	values, err := c.c.List(string(tag))
	if err != nil {
		return nil, classify("list "+string(tag), err)
	}
	return values, nil
}

func (c *Client) Clear() error {
	return classify("clear", c.c.Clear())
}

func (c *Client) FindAdd(tag dispatch.Tag, value string) error {
	// value is quoted by the library; the tag name is sent bare
	err := c.c.Command("findadd %s %s", mpd.Quoted(tag), value).OK()
	return classify("findadd", err)
}

func (c *Client) Play() error {
	return classify("play", c.c.Play(0))
}

func (c *Client) Close() error {
	return c.c.Close()
}

// Ping checks the connection.
func (c *Client) Ping() error {
	return classify("ping", c.c.Ping())
}
