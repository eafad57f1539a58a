package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SessionPrefix is the Redis key prefix for all session hashes.
	SessionPrefix = "session:"

	// DefaultTTL is the sliding lifetime of a session.
	DefaultTTL = 24 * time.Hour
)

// Session is the identity bound to a bearer token.
type Session struct {
	Token      string `redis:"token"`
	UserID     string `redis:"user_id"`
	Email      string `redis:"email"`
	Username   string `redis:"username"`
	CreatedAt  int64  `redis:"created_at"`  // unix timestamp
	LastActive int64  `redis:"last_active"` // unix timestamp
}

// Store manages sessions in Redis.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore connects to Redis at redisAddr and verifies the connection.
func NewStore(redisAddr string, ttl time.Duration) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return NewStoreWithClient(client, ttl), nil
}

// NewStoreWithClient wraps an existing Redis client.
func NewStoreWithClient(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{client: client, ttl: ttl}
}

// Create stores a new session under token.
func (s *Store) Create(ctx context.Context, token, userID, email, username string) (*Session, error) {
	now := time.Now().Unix()
	sess := &Session{
		Token:      token,
		UserID:     userID,
		Email:      email,
		Username:   username,
		CreatedAt:  now,
		LastActive: now,
	}

	key := SessionPrefix + token
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key,
		"token", sess.Token,
		"user_id", sess.UserID,
		"email", sess.Email,
		"username", sess.Username,
		"created_at", sess.CreatedAt,
		"last_active", sess.LastActive,
	)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("session: create: %w", err)
	}
	return sess, nil
}

// Get retrieves a session. It returns nil, nil when the token is unknown or
// expired.
func (s *Store) Get(ctx context.Context, token string) (*Session, error) {
	var sess Session
	if err := s.client.HGetAll(ctx, SessionPrefix+token).Scan(&sess); err != nil {
		return nil, fmt.Errorf("session: get: %w", err)
	}
	if sess.Token == "" {
		return nil, nil
	}
	return &sess, nil
}

// Touch records activity and extends the session's TTL.
func (s *Store) Touch(ctx context.Context, token string) error {
	key := SessionPrefix + token
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: touch: %w", err)
	}
	return nil
}

// Delete removes a session.
func (s *Store) Delete(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, SessionPrefix+token).Err(); err != nil {
		return fmt.Errorf("session: delete: %w", err)
	}
	return nil
}

// TTL returns the configured session lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
