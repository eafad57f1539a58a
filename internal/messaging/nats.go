// Package messaging wraps the NATS connection that fans out ChatNest change
// notifications. Every service that writes messages publishes an insert
// event; every live feed subscribes to them under its own key.
package messaging

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/chatnest/chat-app/internal/logging"
)

// NATS subjects used across ChatNest services.
const (
	SubjectMessageInsert = "chatnest.messages.insert"
	SubjectTyping        = "chatnest.typing"
)

// InsertEvent announces a committed row in the messages table.
type InsertEvent struct {
	ID string `json:"id"`
}

// TypingEvent announces that a connected user started or stopped typing.
type TypingEvent struct {
	From     string `json:"from"` // connection ID of the typist
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

// NATSClient wraps the NATS connection with keyed subscriptions so that many
// connections on one server can listen to the same subject independently.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "chatnest",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS and returns a ready client.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	logger := logging.Component("nats")
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info().Msg("connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("messaging: connect: %w", err)
	}
	logger.Info().Str("url", nc.ConnectedUrl()).Msg("connected")

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("messaging: publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers handler for subject under key. A second subscription
// with the same key replaces the first.
func (c *NATSClient) Subscribe(key, subject string, handler func(data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("messaging: subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	old := c.subs[key]
	c.subs[key] = sub
	c.mu.Unlock()

	if old != nil {
		_ = old.Unsubscribe()
	}
	return nil
}

// PublishInsert announces a committed message row.
func (c *NATSClient) PublishInsert(id string) error {
	data, err := json.Marshal(InsertEvent{ID: id})
	if err != nil {
		return fmt.Errorf("messaging: marshal insert: %w", err)
	}
	return c.Publish(SubjectMessageInsert, data)
}

// SubscribeInserts delivers the ID of every inserted message to handler.
func (c *NATSClient) SubscribeInserts(key string, handler func(id string)) error {
	return c.Subscribe(insertKey(key), SubjectMessageInsert, func(data []byte) {
		var ev InsertEvent
		if err := json.Unmarshal(data, &ev); err != nil || ev.ID == "" {
			log.Warn().Str("component", "nats").Str("key", key).Msg("malformed insert event")
			return
		}
		handler(ev.ID)
	})
}

// UnsubscribeInserts removes the insert subscription registered under key.
func (c *NATSClient) UnsubscribeInserts(key string) error {
	return c.unsubscribe(insertKey(key))
}

// PublishTyping announces a typing state change.
func (c *NATSClient) PublishTyping(ev TypingEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("messaging: marshal typing: %w", err)
	}
	return c.Publish(SubjectTyping, data)
}

// SubscribeTyping delivers every typing event to handler.
func (c *NATSClient) SubscribeTyping(key string, handler func(ev TypingEvent)) error {
	return c.Subscribe(typingKey(key), SubjectTyping, func(data []byte) {
		var ev TypingEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		handler(ev)
	})
}

// UnsubscribeTyping removes the typing subscription registered under key.
func (c *NATSClient) UnsubscribeTyping(key string) error {
	return c.unsubscribe(typingKey(key))
}

// Close drains all active subscriptions and closes the connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Warn().Err(err).Str("component", "nats").Str("key", key).Msg("drain failed")
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Warn().Err(err).Str("component", "nats").Msg("connection drain failed")
	}
}

func insertKey(key string) string { return "insert:" + key }
func typingKey(key string) string { return "typing:" + key }

func (c *NATSClient) unsubscribe(key string) error {
	c.mu.Lock()
	sub, ok := c.subs[key]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("messaging: no subscription for %s", key)
	}
	delete(c.subs, key)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("messaging: unsubscribe %s: %w", key, err)
	}
	return nil
}
