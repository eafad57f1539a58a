package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/chatnest/chat-app/internal/protocol"
)

// Frame is one decoded server frame. Raw holds the complete JSON object.
type Frame struct {
	Type string
	Raw  json.RawMessage
}

// Decode unmarshals the frame into v.
func (f Frame) Decode(v interface{}) error {
	return json.Unmarshal(f.Raw, v)
}

// Conn is a client WebSocket connection to the chat server. Incoming frames
// are delivered in order on Frames; the channel is closed when the
// connection ends.
type Conn struct {
	conn    net.Conn
	writeMu sync.Mutex
	frames  chan Frame
	done    chan struct{} // closed by Close
	ended   chan struct{} // closed when the read loop exits

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// Dial connects to wsURL, which must carry the session token.
func Dial(ctx context.Context, wsURL string) (*Conn, error) {
	conn, _, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("client: dial: %w", err)
	}

	c := &Conn{
		conn:   conn,
		frames: make(chan Frame, 64),
		done:   make(chan struct{}),
		ended:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Frames returns the incoming frame channel.
func (c *Conn) Frames() <-chan Frame {
	return c.frames
}

// Done is closed once the connection has ended.
func (c *Conn) Done() <-chan struct{} {
	return c.ended
}

// Err returns the error that ended the read loop, if any.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Send writes a client frame of msgType.
func (c *Conn) Send(msgType string, payload interface{}) error {
	data, err := protocol.NewClientMessage(msgType, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsutil.WriteClientMessage(c.conn, ws.OpText, data); err != nil {
		return fmt.Errorf("client: write %s: %w", msgType, err)
	}
	return nil
}

// SendMessage sends chat text.
func (c *Conn) SendMessage(text string) error {
	return c.Send(protocol.TypeMessage, protocol.ChatMsg{Text: text})
}

// SendTyping reports the local typing state.
func (c *Conn) SendTyping(isTyping bool) error {
	return c.Send(protocol.TypeTyping, protocol.TypingMsg{IsTyping: isTyping})
}

// Close sends a close frame and closes the socket. Safe to call repeatedly.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = ws.WriteFrame(c.conn, ws.MaskFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))))
		c.writeMu.Unlock()
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *Conn) readLoop() {
	defer close(c.ended)
	defer close(c.frames)

	rd := &wsutil.Reader{
		Source:         c.conn,
		State:          ws.StateClientSide,
		CheckUTF8:      true,
		OnIntermediate: c.handleControl,
	}

	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			c.fail(err)
			return
		}

		if hdr.OpCode.IsControl() {
			if err := c.handleControl(hdr, rd); err != nil {
				c.fail(err)
				return
			}
			continue
		}

		if hdr.OpCode != ws.OpText {
			if err := rd.Discard(); err != nil {
				c.fail(err)
				return
			}
			continue
		}

		data, err := io.ReadAll(rd)
		if err != nil {
			c.fail(err)
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		select {
		case c.frames <- Frame{Type: env.Type, Raw: env.Raw}:
		case <-c.done:
			return
		}
	}
}

// handleControl answers pings and close frames. The reply is buffered so it
// goes out as one write under the write lock.
func (c *Conn) handleControl(h ws.Header, r io.Reader) error {
	var buf bytes.Buffer
	err := wsutil.ControlHandler{
		Src:                 r,
		Dst:                 &buf,
		State:               ws.StateClientSide,
		DisableSrcCiphering: true,
	}.Handle(h)

	if buf.Len() > 0 {
		c.writeMu.Lock()
		_, werr := c.conn.Write(buf.Bytes())
		c.writeMu.Unlock()
		if err == nil {
			err = werr
		}
	}
	return err
}

func (c *Conn) fail(err error) {
	select {
	case <-c.done:
		return
	default:
	}
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
}
