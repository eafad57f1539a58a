// Package relay implements the AI relay function: it takes a prompt, asks the
// LLM provider for a completion, and posts the answer into the room as a bot
// message. The package also provides the HTTP handler that exposes the relay
// and the client the chat server uses to call it.
package relay

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/chatnest/chat-app/internal/llm"
	"github.com/chatnest/chat-app/internal/logging"
	"github.com/chatnest/chat-app/internal/message"
	"github.com/chatnest/chat-app/internal/metrics"
)

const (
	// SystemPrompt frames the assistant for the group chat.
	SystemPrompt = "You are ChatGPT, a helpful AI assistant participating in a group chat called ChatNest. " +
		"Be friendly, conversational, and helpful. Keep responses concise and engaging for a chat environment."

	MaxTokens   = 500
	Temperature = 0.7
)

var (
	// ErrNotConfigured is wrapped by every *ConfigError.
	ErrNotConfigured = errors.New("relay: not configured")

	// ErrInvalidPrompt rejects a missing or empty prompt.
	ErrInvalidPrompt = errors.New("Invalid prompt provided")
)

// ConfigError names the configuration the relay is missing.
type ConfigError struct {
	Missing []string
	msg     string
}

// Error implements the error interface.
func (e *ConfigError) Error() string { return e.msg }

// Unwrap lets errors.Is match ErrNotConfigured.
func (e *ConfigError) Unwrap() error { return ErrNotConfigured }

// Config is the relay's runtime configuration.
type Config struct {
	APIKey      string
	DatabaseURL string
	ServiceKey  string
}

// Validate reports the first missing credential as a *ConfigError.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return &ConfigError{Missing: []string{"OPENAI_API_KEY"}, msg: "OpenAI API key not configured"}
	}
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.ServiceKey == "" {
		missing = append(missing, "RELAY_SERVICE_KEY")
	}
	if len(missing) > 0 {
		return &ConfigError{Missing: missing, msg: "Database configuration missing: " + strings.Join(missing, ", ")}
	}
	return nil
}

// Completer produces an assistant reply for a prompt.
type Completer interface {
	Complete(ctx context.Context, system, prompt string, p llm.Params) (string, error)
}

// Inserter persists the bot message.
type Inserter interface {
	Insert(ctx context.Context, n message.NewMessage) (*message.Message, error)
}

// Relay runs one prompt through the LLM and stores the reply. It holds no
// per-request state and is safe for concurrent use.
type Relay struct {
	config    Config
	completer Completer
	store     Inserter
	logger    zerolog.Logger
}

// New creates a Relay. store may be nil when the database is not configured;
// Run then fails at validation before touching it.
func New(config Config, completer Completer, store Inserter) *Relay {
	return &Relay{
		config:    config,
		completer: completer,
		store:     store,
		logger:    logging.Component("relay"),
	}
}

// Run answers prompt and returns the completion text after the bot message
// has been stored.
func (r *Relay) Run(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	out, outcome, err := r.run(ctx, prompt)
	metrics.RelayInvocations.WithLabelValues(outcome).Inc()
	metrics.RelayLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		r.logger.Error().Err(err).Str("stage", outcome).Msg("invocation failed")
		return "", err
	}
	r.logger.Info().Int("prompt_len", len(prompt)).Int("reply_len", len(out)).Msg("invocation succeeded")
	return out, nil
}

func (r *Relay) run(ctx context.Context, prompt string) (string, string, error) {
	if prompt == "" {
		return "", "invalid_prompt", ErrInvalidPrompt
	}
	if err := r.config.Validate(); err != nil {
		return "", "not_configured", err
	}

	reply, err := r.completer.Complete(ctx, SystemPrompt, prompt, llm.Params{
		MaxTokens:   MaxTokens,
		Temperature: Temperature,
	})
	if err != nil {
		var apiErr *llm.APIError
		switch {
		case errors.As(err, &apiErr):
			return "", "llm_error", err
		case errors.Is(err, llm.ErrEmptyResponse):
			return "", "empty_response", err
		default:
			return "", "llm_error", err
		}
	}
	if reply == "" {
		return "", "empty_response", llm.ErrEmptyResponse
	}

	if _, err := r.store.Insert(ctx, message.BotMessage(reply)); err != nil {
		return "", "store_error", err
	}
	return reply, "ok", nil
}
