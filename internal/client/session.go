// Package client is the terminal client's view of the chat server: the
// signed-in session and the live WebSocket connection.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chatnest/chat-app/internal/identity"
)

// AuthState is the client's authentication status.
type AuthState int

const (
	Anonymous AuthState = iota
	Authenticating
	Authenticated
)

func (s AuthState) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("AuthState(%d)", int(s))
	}
}

// State is a snapshot of the session.
type State struct {
	Auth    AuthState
	User    *identity.User
	Token   string
	Loading bool // initial restore in progress
}

// APIError is an error returned by the identity API. Error returns the
// server's message unchanged so it can be shown to the user.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// ErrNoToken is returned by Restore when there is no saved token.
var ErrNoToken = errors.New("client: no saved session token")

// SessionStore holds the current user and token and notifies listeners on
// every change.
type SessionStore struct {
	baseURL string
	http    *http.Client

	mu        sync.Mutex
	state     State
	listeners map[int]func(State)
	nextID    int
}

// NewSessionStore creates a store talking to the server at baseURL.
func NewSessionStore(baseURL string) *SessionStore {
	return &SessionStore{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: 15 * time.Second},
		listeners: make(map[int]func(State)),
	}
}

// Current returns the signed-in user (nil when anonymous) and the auth state.
func (s *SessionStore) Current() (*identity.User, AuthState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.User, s.state.Auth
}

// Snapshot returns the full session state.
func (s *SessionStore) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Loading reports whether the initial restore is still running.
func (s *SessionStore) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Loading
}

// Token returns the bearer token, or "" when signed out.
func (s *SessionStore) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Token
}

// OnChange registers fn to be called with each new state. The returned
// function removes the listener.
func (s *SessionStore) OnChange(fn func(State)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Restore resolves a previously saved token. Loading is true while it runs.
// An invalid token leaves the store anonymous and returns the server error.
func (s *SessionStore) Restore(ctx context.Context, token string) error {
	if token == "" {
		return ErrNoToken
	}
	s.update(func(st *State) {
		st.Loading = true
		st.Auth = Authenticating
	})

	var resp struct {
		User identity.User `json:"user"`
	}
	err := s.do(ctx, http.MethodGet, "/auth/session", token, nil, &resp)

	s.update(func(st *State) {
		st.Loading = false
		if err != nil {
			*st = State{Auth: Anonymous}
			return
		}
		user := resp.User
		st.Auth = Authenticated
		st.User = &user
		st.Token = token
	})
	return err
}

// SignUp creates an account. The store stays anonymous; the user signs in
// separately.
func (s *SessionStore) SignUp(ctx context.Context, email, password, username string) (*identity.User, error) {
	prev := s.begin()

	var resp struct {
		User identity.User `json:"user"`
	}
	body := map[string]string{"email": email, "password": password, "username": username}
	err := s.do(ctx, http.MethodPost, "/auth/signup", "", body, &resp)

	s.update(func(st *State) { st.Auth = prev })
	if err != nil {
		return nil, err
	}
	return &resp.User, nil
}

// SignIn exchanges credentials for a session token.
func (s *SessionStore) SignIn(ctx context.Context, email, password string) (*identity.Session, error) {
	prev := s.begin()

	var sess identity.Session
	body := map[string]string{"email": email, "password": password}
	err := s.do(ctx, http.MethodPost, "/auth/signin", "", body, &sess)

	s.update(func(st *State) {
		if err != nil {
			st.Auth = prev
			return
		}
		user := sess.User
		st.Auth = Authenticated
		st.User = &user
		st.Token = sess.Token
	})
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// SignOut revokes the token on the server. Local state is cleared even when
// the server call fails; the error is still returned.
func (s *SessionStore) SignOut(ctx context.Context) error {
	token := s.Token()
	var err error
	if token != "" {
		err = s.do(ctx, http.MethodPost, "/auth/signout", token, nil, nil)
	}
	s.update(func(st *State) { *st = State{Auth: Anonymous} })
	return err
}

// WebSocketURL returns the chat endpoint URL carrying the current token.
func (s *SessionStore) WebSocketURL() string {
	base := s.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws?token=" + url.QueryEscape(s.Token())
}

// begin marks the store as authenticating and returns the previous state.
func (s *SessionStore) begin() AuthState {
	s.mu.Lock()
	prev := s.state.Auth
	s.mu.Unlock()
	s.update(func(st *State) { st.Auth = Authenticating })
	return prev
}

func (s *SessionStore) update(fn func(*State)) {
	s.mu.Lock()
	fn(&s.state)
	st := s.state
	listeners := make([]func(State), 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(st)
	}
}

func (s *SessionStore) do(ctx context.Context, method, path, token string, in, out interface{}) error {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, &body)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode %s response: %w", path, err)
	}
	return nil
}
