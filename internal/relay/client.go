package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultClientTimeout bounds a relay invocation from the chat server.
const DefaultClientTimeout = 90 * time.Second

// InvokeError is a non-200 answer from the relay.
type InvokeError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *InvokeError) Error() string {
	return fmt.Sprintf("relay: %d: %s", e.Status, e.Message)
}

// Client calls a remote relay over HTTP.
type Client struct {
	url        string
	serviceKey string
	httpClient *http.Client
}

// NewClient creates a Client posting to url and authenticating with
// serviceKey.
func NewClient(url, serviceKey string) *Client {
	return &Client{
		url:        url,
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: DefaultClientTimeout},
	}
}

// Invoke asks the relay to answer prompt and returns its reply.
func (c *Client) Invoke(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return "", fmt.Errorf("relay: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("relay: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.serviceKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("relay: invoke: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("relay: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var er errorResponse
		msg := string(data)
		if json.Unmarshal(data, &er) == nil && er.Error != "" {
			msg = er.Error
		}
		return "", &InvokeError{Status: resp.StatusCode, Message: msg}
	}

	var ok successResponse
	if err := json.Unmarshal(data, &ok); err != nil {
		return "", fmt.Errorf("relay: decode response: %w", err)
	}
	return ok.Response, nil
}
