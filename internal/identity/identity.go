// Package identity manages ChatNest accounts: sign-up with a bcrypt-hashed
// password stored in PostgreSQL, sign-in issuing an opaque bearer token kept
// in Redis, sign-out, and token resolution for the WebSocket server.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/chatnest/chat-app/internal/metrics"
	"github.com/chatnest/chat-app/internal/session"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

var (
	ErrInvalidEmail       = errors.New("Invalid email address")
	ErrWeakPassword       = fmt.Errorf("Password should be at least %d characters", MinPasswordLength)
	ErrMissingUsername    = errors.New("Username is required")
	ErrEmailTaken         = errors.New("User already registered")
	ErrInvalidCredentials = errors.New("Invalid login credentials")
	ErrUnauthenticated    = errors.New("Not signed in")
	ErrNotFound           = errors.New("identity: user not found")
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// User is a registered account.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is a signed-in user with their bearer token.
type Session struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Repository persists profiles.
type Repository interface {
	Create(ctx context.Context, u *User, passwordHash string) error
	FindByEmail(ctx context.Context, email string) (*User, string, error)
}

// SessionStore keeps bearer tokens.
type SessionStore interface {
	Create(ctx context.Context, token, userID, email, username string) (*session.Session, error)
	Get(ctx context.Context, token string) (*session.Session, error)
	Touch(ctx context.Context, token string) error
	Delete(ctx context.Context, token string) error
}

// Service implements the account operations.
type Service struct {
	repo     Repository
	sessions SessionStore
	hashCost int
}

// NewService creates a Service hashing passwords with bcrypt.DefaultCost.
func NewService(repo Repository, sessions SessionStore) *Service {
	return &Service{repo: repo, sessions: sessions, hashCost: bcrypt.DefaultCost}
}

// SetHashCost overrides the bcrypt cost.
func (s *Service) SetHashCost(cost int) {
	s.hashCost = cost
}

// SignUp registers a new account. It does not sign the user in.
func (s *Service) SignUp(ctx context.Context, email, password, username string) (*User, error) {
	email = normalizeEmail(email)
	username = strings.TrimSpace(username)

	switch {
	case !emailRegex.MatchString(email) || len(email) > 254:
		return nil, ErrInvalidEmail
	case len(password) < MinPasswordLength:
		return nil, ErrWeakPassword
	case username == "":
		return nil, ErrMissingUsername
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("identity: hash password: %w", err)
	}

	u := &User{
		ID:        uuid.New().String(),
		Email:     email,
		Username:  username,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, u, string(hash)); err != nil {
		metrics.AuthAttempts.WithLabelValues("signup", "failed").Inc()
		return nil, err
	}
	metrics.AuthAttempts.WithLabelValues("signup", "ok").Inc()
	return u, nil
}

// SignIn verifies credentials and issues a new session token.
func (s *Service) SignIn(ctx context.Context, email, password string) (*Session, error) {
	u, hash, err := s.repo.FindByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		metrics.AuthAttempts.WithLabelValues("signin", "rejected").Inc()
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		metrics.AuthAttempts.WithLabelValues("signin", "rejected").Inc()
		return nil, ErrInvalidCredentials
	}

	token := uuid.New().String()
	if _, err := s.sessions.Create(ctx, token, u.ID, u.Email, u.Username); err != nil {
		return nil, fmt.Errorf("identity: sign in: %w", err)
	}
	metrics.AuthAttempts.WithLabelValues("signin", "ok").Inc()
	return &Session{Token: token, User: *u}, nil
}

// SignOut invalidates token. Unknown tokens are not an error.
func (s *Service) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.sessions.Delete(ctx, token); err != nil {
		return fmt.Errorf("identity: sign out: %w", err)
	}
	metrics.AuthAttempts.WithLabelValues("signout", "ok").Inc()
	return nil
}

// Resolve returns the user bound to token and extends the session.
func (s *Service) Resolve(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	sess, err := s.sessions.Get(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("identity: resolve: %w", err)
	}
	if sess == nil {
		return nil, ErrUnauthenticated
	}
	if err := s.sessions.Touch(ctx, token); err != nil {
		return nil, fmt.Errorf("identity: resolve: %w", err)
	}
	return &User{
		ID:        sess.UserID,
		Email:     sess.Email,
		Username:  sess.Username,
		CreatedAt: time.Unix(sess.CreatedAt, 0).UTC(),
	}, nil
}

// TokenFromRequest reads a bearer token from the Authorization header, or
// from the "token" query parameter for WebSocket upgrades.
func TokenFromRequest(r *http.Request) string {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("token")
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
