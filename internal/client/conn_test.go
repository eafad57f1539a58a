package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatnest/chat-app/internal/protocol"
)

// echoServer greets with a ready frame, pings, then echoes each message frame
// back as a sent acknowledgement carrying the text.
func echoServer(t *testing.T, pongs chan<- struct{}) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "good" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		defer conn.Close()

		ready, _ := protocol.NewServerMessage(protocol.TypeReady, protocol.ReadyMsg{UserID: "u1", Username: "alice"})
		_ = wsutil.WriteServerText(conn, ready)
		_ = ws.WriteFrame(conn, ws.NewPingFrame([]byte("hb")))

		for {
			hdr, err := ws.ReadHeader(conn)
			if err != nil {
				return
			}
			payload := make([]byte, hdr.Length)
			if _, err := io.ReadFull(conn, payload); err != nil {
				return
			}
			if hdr.Masked {
				ws.Cipher(payload, hdr.Mask, 0)
			}

			switch hdr.OpCode {
			case ws.OpPong:
				pongs <- struct{}{}
			case ws.OpClose:
				return
			case ws.OpText:
				_, msg, err := protocol.ParseClientMessage(payload)
				if err != nil {
					continue
				}
				if m, ok := msg.(protocol.ChatMsg); ok {
					out, _ := protocol.NewServerMessage(protocol.TypeSendFailed, protocol.SendFailedMsg{Text: m.Text})
					_ = wsutil.WriteServerText(conn, out)
				}
			}
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func wsURL(ts *httptest.Server, token string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + token
}

func nextFrame(t *testing.T, c *Conn) Frame {
	t.Helper()
	select {
	case f, ok := <-c.Frames():
		require.True(t, ok, "frames channel closed")
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return Frame{}
}

func TestConn_RoundTrip(t *testing.T) {
	pongs := make(chan struct{}, 1)
	ts := echoServer(t, pongs)

	c, err := Dial(context.Background(), wsURL(ts, "good"))
	require.NoError(t, err)
	defer c.Close()

	f := nextFrame(t, c)
	assert.Equal(t, protocol.TypeReady, f.Type)
	var ready protocol.ReadyMsg
	require.NoError(t, f.Decode(&ready))
	assert.Equal(t, "alice", ready.Username)

	select {
	case <-pongs:
	case <-time.After(2 * time.Second):
		t.Fatal("ping was not answered")
	}

	require.NoError(t, c.SendMessage("hello"))
	f = nextFrame(t, c)
	assert.Equal(t, protocol.TypeSendFailed, f.Type)
	var failed protocol.SendFailedMsg
	require.NoError(t, f.Decode(&failed))
	assert.Equal(t, "hello", failed.Text)
}

func TestConn_RejectedToken(t *testing.T) {
	ts := echoServer(t, make(chan struct{}, 1))
	_, err := Dial(context.Background(), wsURL(ts, "bad"))
	assert.Error(t, err)
}

func TestConn_CloseEndsFrames(t *testing.T) {
	ts := echoServer(t, make(chan struct{}, 1))
	c, err := Dial(context.Background(), wsURL(ts, "good"))
	require.NoError(t, err)

	require.NoError(t, c.Close())
	assert.NoError(t, c.Close())

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not stop")
	}
	for range c.Frames() {
	}
}
