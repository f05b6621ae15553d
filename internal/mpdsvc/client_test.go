package mpdsvc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caracas/internal/dispatch"
)

// fakeMPD speaks enough of the MPD line protocol for the adapter.
type fakeMPD struct {
	ln net.Listener

	mu       sync.Mutex
	received []string
	replies  map[string]string
	hangup   map[string]bool
}

func newFakeMPD(t *testing.T) *fakeMPD {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f := &fakeMPD{
		ln:      ln,
		replies: map[string]string{},
		hangup:  map[string]bool{},
	}
	t.Cleanup(func() { ln.Close() })
	go f.serve()
	return f
}

func (f *fakeMPD) addr() string { return f.ln.Addr().String() }

func (f *fakeMPD) reply(cmd, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[cmd] = body
}

func (f *fakeMPD) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.received...)
}

func (f *fakeMPD) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakeMPD) handle(conn net.Conn) {
	defer conn.Close()
	fmt.Fprint(conn, "OK MPD 0.23.5\n")

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.ReplaceAll(strings.TrimSpace(line), `"`, "")

		f.mu.Lock()
		f.received = append(f.received, cmd)
		body, ok := f.replies[cmd]
		hang := f.hangup[cmd]
		f.mu.Unlock()

		switch {
		case hang:
			return
		case ok:
			fmt.Fprint(conn, body+"OK\n")
		case isPlain(cmd):
			fmt.Fprint(conn, "OK\n")
		default:
			name, _, _ := strings.Cut(cmd, " ")
			fmt.Fprintf(conn, "ACK [5@0] {%s} unknown command\n", name)
		}
	}
}

func isPlain(cmd string) bool {
	for _, p := range []string{"next", "previous", "pause", "play", "clear", "setvol", "findadd", "ping"} {
		if cmd == p || strings.HasPrefix(cmd, p+" ") {
			return true
		}
	}
	return false
}

func dialFake(t *testing.T, f *fakeMPD) *Client {
	t.Helper()
	c, err := Dial(Config{Address: f.addr()})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestChangeVolumeClamps(t *testing.T) {
	f := newFakeMPD(t)
	f.reply("status", "volume: 99\nstate: play\n")
	c := dialFake(t, f)

	require.NoError(t, c.ChangeVolume(2))
	assert.Contains(t, f.commands(), "setvol 100")
}

func TestChangeVolumeWithoutMixerIsRejected(t *testing.T) {
	f := newFakeMPD(t)
	f.reply("status", "volume: -1\nstate: stop\n")
	c := dialFake(t, f)

	err := c.ChangeVolume(2)
	require.ErrorIs(t, err, errNoMixer)
	assert.False(t, dispatch.IsConnectionError(err))
}

func TestTogglePause(t *testing.T) {
	cases := map[string]string{
		"play":  "pause 1",
		"pause": "pause 0",
		"stop":  "play",
	}
	for state, want := range cases {
		f := newFakeMPD(t)
		f.reply("status", "volume: 40\nstate: "+state+"\n")
		c := dialFake(t, f)

		require.NoError(t, c.TogglePause(), state)
		cmds := f.commands()
		assert.Equal(t, want, cmds[len(cmds)-1], state)
	}
}

func TestNavigationPrimitives(t *testing.T) {
	f := newFakeMPD(t)
	f.reply("currentsong", "file: a.flac\nArtist: ABBA\nAlbum: Gold\n")
	f.reply("list album", "Album: Arrival\nAlbum: Gold\n")
	c := dialFake(t, f)

	album, err := c.CurrentTag(dispatch.TagAlbum)
	require.NoError(t, err)
	assert.Equal(t, "Gold", album)

	values, err := c.TagValues(dispatch.TagAlbum)
	require.NoError(t, err)
	assert.Equal(t, []string{"Arrival", "Gold"}, values)

	require.NoError(t, c.Clear())
	require.NoError(t, c.FindAdd(dispatch.TagAlbum, "Super Trouper"))
	require.NoError(t, c.Play())

	cmds := f.commands()
	require.GreaterOrEqual(t, len(cmds), 3)
	assert.Equal(t, []string{"clear", "findadd album Super Trouper", "play 0"}, cmds[len(cmds)-3:])
}

func TestCurrentTagMissing(t *testing.T) {
	f := newFakeMPD(t)
	f.reply("currentsong", "file: a.flac\nTitle: Untagged\n")
	c := dialFake(t, f)

	_, err := c.CurrentTag(dispatch.TagArtist)
	assert.ErrorIs(t, err, dispatch.ErrTagNotFound)
}

func TestCurrentTagNothingPlaying(t *testing.T) {
	f := newFakeMPD(t)
	f.reply("currentsong", "")
	c := dialFake(t, f)

	_, err := c.CurrentTag(dispatch.TagArtist)
	assert.ErrorIs(t, err, errNoCurrentSong)
}

func TestHangupIsConnectionError(t *testing.T) {
	f := newFakeMPD(t)
	f.mu.Lock()
	f.hangup["next"] = true
	f.mu.Unlock()
	c := dialFake(t, f)

	err := c.Next()
	require.Error(t, err)
	assert.True(t, dispatch.IsConnectionError(err), "got %v", err)
}

func TestServerRejectionIsNotConnectionError(t *testing.T) {
	f := newFakeMPD(t)
	c := dialFake(t, f)

	_, err := c.TagValues("genre")
	require.Error(t, err)
	assert.False(t, dispatch.IsConnectionError(err))
}

func TestConnectorFailsWhenNothingListens(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	_, err = Connector(Config{Address: addr})(ctx)
	assert.Error(t, err)
}

func TestIsTransport(t *testing.T) {
	assert.True(t, isTransport(io.EOF))
	assert.True(t, isTransport(fmt.Errorf("read: %w", syscall.ECONNRESET)))
	assert.True(t, isTransport(&net.OpError{Op: "read", Err: errors.New("boom")}))
	assert.False(t, isTransport(errors.New("ACK [50@0] {play} no such song")))
	assert.Nil(t, classify("x", nil))
}

func TestClampVolume(t *testing.T) {
	assert.Equal(t, 0, clampVolume(-4))
	assert.Equal(t, 100, clampVolume(104))
	assert.Equal(t, 42, clampVolume(42))
}
