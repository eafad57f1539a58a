// Package feed owns one client's view of the chat room: the ordered message
// list, its live subscription to inserts, and the send path that stores a
// message and hands @gpt prompts to the AI relay.
package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chatnest/chat-app/internal/logging"
	"github.com/chatnest/chat-app/internal/message"
	"github.com/chatnest/chat-app/internal/relay"
)

// ErrEmptyMessage is returned by Send for whitespace-only text.
var ErrEmptyMessage = errors.New("feed: message is empty")

// fetchTimeout bounds the single-row fetch done per insert notification.
const fetchTimeout = 5 * time.Second

// Store reads and writes persisted messages.
type Store interface {
	List(ctx context.Context) ([]message.Message, error)
	Get(ctx context.Context, id string) (*message.Message, error)
	Insert(ctx context.Context, n message.NewMessage) (*message.Message, error)
}

// ChangeFeed delivers the IDs of inserted messages.
type ChangeFeed interface {
	SubscribeInserts(key string, handler func(id string)) error
	UnsubscribeInserts(key string) error
}

// Relay asks the AI relay to answer a prompt.
type Relay interface {
	Invoke(ctx context.Context, prompt string) (string, error)
}

// NoticeKind distinguishes ordinary failures from AI failures.
type NoticeKind string

const (
	NoticeError   NoticeKind = "error"
	NoticeAIError NoticeKind = "ai_error"
)

// Notice is a user-visible failure report.
type Notice struct {
	Kind  NoticeKind
	Title string
	Text  string
}

var (
	noticeLoadFailed = Notice{Kind: NoticeError, Title: "Error", Text: "Failed to load messages"}
	noticeSendFailed = Notice{Kind: NoticeError, Title: "Error", Text: "Failed to send message"}
	noticeAIFailed   = Notice{Kind: NoticeAIError, Title: "AI Error", Text: "Failed to get response from ChatGPT"}
)

// Config wires a Feed to its collaborators.
type Config struct {
	Key     string // subscription key, unique per feed
	UserID  string // author of messages sent through this feed
	Store   Store
	Changes ChangeFeed
	Relay   Relay

	// OnMessage is called with each message added from the live
	// subscription. OnNotice is called with each failure notice.
	OnMessage func(message.Message)
	OnNotice  func(Notice)
}

// Feed is the sole owner of an ordered message list.
type Feed struct {
	cfg    Config
	logger zerolog.Logger

	mu         sync.Mutex
	messages   []message.Message
	subscribed bool
	closed     bool

	relayWG sync.WaitGroup
}

// New creates an empty, unsubscribed Feed.
func New(cfg Config) *Feed {
	return &Feed{
		cfg:    cfg,
		logger: logging.Component("feed").With().Str("key", cfg.Key).Logger(),
	}
}

// Load replaces the list with the stored history, keeping any messages that
// already arrived through the subscription.
func (f *Feed) Load(ctx context.Context) error {
	history, err := f.cfg.Store.List(ctx)
	if err != nil {
		f.logger.Error().Err(err).Msg("load failed")
		f.notify(noticeLoadFailed)
		return fmt.Errorf("feed: load: %w", err)
	}

	f.mu.Lock()
	merged := make([]message.Message, 0, len(history)+len(f.messages))
	merged = append(merged, history...)
	for _, m := range f.messages {
		merged, _ = message.Insert(merged, m)
	}
	f.messages = merged
	f.mu.Unlock()
	return nil
}

// Subscribe starts the live subscription. Calling it twice is an error.
func (f *Feed) Subscribe() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return errors.New("feed: subscribe after close")
	}
	if f.subscribed {
		f.mu.Unlock()
		return errors.New("feed: already subscribed")
	}
	f.subscribed = true
	f.mu.Unlock()

	if err := f.cfg.Changes.SubscribeInserts(f.cfg.Key, f.handleInsert); err != nil {
		f.mu.Lock()
		f.subscribed = false
		f.mu.Unlock()
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	return nil
}

// handleInsert fetches the announced row and adds it to the list.
func (f *Feed) handleInsert(id string) {
	if f.isClosed() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	m, err := f.cfg.Store.Get(ctx, id)
	if err != nil {
		f.logger.Warn().Err(err).Str("message_id", id).Msg("fetch inserted message failed")
		return
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	var added bool
	f.messages, added = message.Insert(f.messages, *m)
	f.mu.Unlock()

	if added && f.cfg.OnMessage != nil {
		f.cfg.OnMessage(*m)
	}
}

// Send stores text as a message from the feed's user. Text starting with the
// relay trigger also starts a background relay call; Send does not wait for
// it. The stored message reaches the list through the subscription.
func (f *Feed) Send(ctx context.Context, text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ErrEmptyMessage
	}
	if err := message.Validate(trimmed); err != nil {
		return err
	}

	if _, err := f.cfg.Store.Insert(ctx, message.UserMessage(f.cfg.UserID, trimmed)); err != nil {
		f.logger.Error().Err(err).Msg("send failed")
		f.notify(noticeSendFailed)
		return fmt.Errorf("feed: send: %w", err)
	}

	if prompt, ok := relay.ParseTrigger(text); ok {
		f.invokeRelay(prompt)
	}
	return nil
}

// invokeRelay calls the relay detached from the caller's context.
func (f *Feed) invokeRelay(prompt string) {
	if f.cfg.Relay == nil {
		f.notify(noticeAIFailed)
		return
	}

	f.relayWG.Add(1)
	go func() {
		defer f.relayWG.Done()
		if _, err := f.cfg.Relay.Invoke(context.Background(), prompt); err != nil {
			f.logger.Error().Err(err).Msg("relay invocation failed")
			f.notify(noticeAIFailed)
		}
	}()
}

// Wait blocks until every relay call started by Send has returned.
func (f *Feed) Wait() {
	f.relayWG.Wait()
}

// Messages returns a snapshot of the ordered list.
func (f *Feed) Messages() []message.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]message.Message, len(f.messages))
	copy(out, f.messages)
	return out
}

// Close releases the subscription. It is safe to call more than once.
// Relay calls already in flight run to completion.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	subscribed := f.subscribed
	f.mu.Unlock()

	if subscribed {
		if err := f.cfg.Changes.UnsubscribeInserts(f.cfg.Key); err != nil {
			f.logger.Warn().Err(err).Msg("unsubscribe failed")
		}
	}
}

func (f *Feed) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Feed) notify(n Notice) {
	if f.cfg.OnNotice != nil {
		f.cfg.OnNotice(n)
	}
}
