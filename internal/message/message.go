// Package message defines the chat message model shared by the chat server,
// the AI relay, and the terminal client, and its PostgreSQL persistence.
package message

import (
	"errors"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"
)

const (
	MaxMessageBytes = 4096 // max content size in bytes
	MaxTextChars    = 2000 // max content size in characters

	// BotLabel is the author label shown for assistant messages.
	BotLabel = "ChatGPT"
	// FallbackLabel is shown when a human author has no resolvable username.
	FallbackLabel = "User"
)

var (
	ErrEmpty       = errors.New("message: text is empty")
	ErrTooLong     = fmt.Errorf("message: exceeds %d byte or %d character limit", MaxMessageBytes, MaxTextChars)
	ErrInvalidUTF8 = errors.New("message: text contains invalid UTF-8")
	ErrNotFound    = errors.New("message: not found")
	ErrAuthor      = errors.New("message: bot messages have no author and user messages require one")
)

// Message is one persisted chat message. UserID is nil exactly when IsGPT is
// set. Username is resolved from the author's profile and is empty for bot
// messages or authors without a profile.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UserID    *string   `json:"user_id"`
	IsGPT     bool      `json:"is_gpt"`
	Username  string    `json:"username,omitempty"`
}

// Author returns the display label for the message's author.
func (m Message) Author() string {
	if m.IsGPT {
		return BotLabel
	}
	if m.Username == "" {
		return FallbackLabel
	}
	return m.Username
}

// IsOwn reports whether userID authored the message.
func (m Message) IsOwn(userID string) bool {
	return !m.IsGPT && m.UserID != nil && *m.UserID == userID
}

// Less orders messages by creation time, then by ID.
func Less(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Insert places m into the ordered list, returning the new list and whether m
// was added. A message whose ID is already present is ignored.
func Insert(list []Message, m Message) ([]Message, bool) {
	for i := range list {
		if list[i].ID == m.ID {
			return list, false
		}
	}
	i := sort.Search(len(list), func(i int) bool { return Less(m, list[i]) })
	list = append(list, Message{})
	copy(list[i+1:], list[i:])
	list[i] = m
	return list, true
}

// NewMessage is the write model for Store.Insert.
type NewMessage struct {
	Content string
	UserID  *string
	IsGPT   bool
}

// UserMessage builds a human-authored message.
func UserMessage(userID, content string) NewMessage {
	return NewMessage{Content: content, UserID: &userID}
}

// BotMessage builds an assistant message with no author.
func BotMessage(content string) NewMessage {
	return NewMessage{Content: content, IsGPT: true}
}

// Validate checks the author invariant for a pending insert.
func (n NewMessage) Validate() error {
	if n.IsGPT == (n.UserID != nil) {
		return ErrAuthor
	}
	if n.UserID != nil && *n.UserID == "" {
		return ErrAuthor
	}
	return nil
}

// Validate checks that chat text meets content requirements.
func Validate(text string) error {
	if len(text) == 0 {
		return ErrEmpty
	}
	if !utf8.ValidString(text) {
		return ErrInvalidUTF8
	}
	if len(text) > MaxMessageBytes || utf8.RuneCountInString(text) > MaxTextChars {
		return ErrTooLong
	}
	return nil
}
