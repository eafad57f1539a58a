// Package protocol defines the WebSocket frames exchanged between the ChatNest
// terminal client and the chat server. Every frame is a JSON object with a
// "type" discriminator.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/chatnest/chat-app/internal/message"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeMessage = "message"
	TypeTyping  = "typing"
	TypePing    = "ping"
)

// Server -> Client message types. TypeMessage and TypeTyping are reused in
// this direction with server payloads.
const (
	TypeReady       = "ready"
	TypeHistory     = "history"
	TypeNotice      = "notice"
	TypeSent        = "sent"
	TypeSendFailed  = "send_failed"
	TypeRateLimited = "rate_limited"
	TypeError       = "error"
	TypePong        = "pong"
)

// Notice kinds carried by NoticeMsg.
const (
	NoticeError   = "error"
	NoticeAIError = "ai_error"
)

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// ChatMsg asks the server to post text to the room.
type ChatMsg struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TypingMsg reports whether the client is currently typing.
type TypingMsg struct {
	Type     string `json:"type"`
	IsTyping bool   `json:"is_typing"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// ReadyMsg confirms the authenticated identity of a new connection.
type ReadyMsg struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// HistoryMsg carries the ordered message list after the initial load.
type HistoryMsg struct {
	Type     string            `json:"type"`
	Messages []message.Message `json:"messages"`
}

// ServerChatMsg delivers one newly inserted message.
type ServerChatMsg struct {
	Type    string          `json:"type"`
	Message message.Message `json:"message"`
}

// ServerTypingMsg tells the client that another user started or stopped
// typing.
type ServerTypingMsg struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

// NoticeMsg is a user-visible notice such as "Failed to send message".
type NoticeMsg struct {
	Type  string `json:"type"`
	Kind  string `json:"kind"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// SentMsg acknowledges that a chat message was persisted.
type SentMsg struct {
	Type string `json:"type"`
}

// SendFailedMsg reports that text could not be persisted. The client keeps it
// in the input.
type SendFailedMsg struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// RateLimitedMsg tells the client it is sending too fast.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"` // seconds
}

// ErrorMsg is a protocol-level error.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg answers a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// An error is returned for unknown or server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeMessage:
		var m ChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage encodes payload with msgType injected under "type".
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	typ, _ := json.Marshal(msgType)
	m["type"] = typ

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}

// NewClientMessage encodes a client frame with msgType injected under "type".
func NewClientMessage(msgType string, payload interface{}) ([]byte, error) {
	return NewServerMessage(msgType, payload)
}
