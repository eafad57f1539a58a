// Package ratelimit provides Redis-backed fixed-window rate limiting using
// INCR + EXPIRE. ChatNest throttles message sends per user, sign-in attempts
// per client address, and WebSocket upgrades per client address.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix, e.g. "rl:msg:"
	Limit  int           // max count in the window
	Window time.Duration // window length
}

var (
	// RuleMessage allows 5 messages per 10 seconds per user.
	RuleMessage = Rule{Key: "rl:msg:", Limit: 5, Window: 10 * time.Second}

	// RuleSignIn allows 10 sign-in or sign-up attempts per minute per address.
	RuleSignIn = Rule{Key: "rl:auth:", Limit: 10, Window: time.Minute}

	// RuleConnect allows 5 WebSocket connections per minute per address.
	RuleConnect = Rule{Key: "rl:conn:", Limit: 5, Window: time.Minute}
)

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow increments identifier's counter for rule and reports whether it is
// still within the limit. Redis errors fail open so an outage does not block
// legitimate traffic.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Warn().Err(err).Str("component", "ratelimit").Str("key", key).Msg("INCR failed, failing open")
		return true, err
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Warn().Err(err).Str("component", "ratelimit").Str("key", key).Msg("EXPIRE failed, failing open")
			// Without a TTL the key would block the identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= rule.Limit, nil
}

// RetryAfter returns how long identifier must wait before the window for rule
// resets. It returns the full window when the key has no TTL.
func (l *Limiter) RetryAfter(ctx context.Context, identifier string, rule Rule) time.Duration {
	ttl, err := l.client.PTTL(ctx, rule.Key+identifier).Result()
	if err != nil || ttl <= 0 {
		return rule.Window
	}
	return ttl
}

// Remaining returns the number of requests identifier has left in the current
// window. On Redis errors it returns the full limit.
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return rule.Limit, nil
	}
	if err != nil {
		log.Warn().Err(err).Str("component", "ratelimit").Str("key", key).Msg("GET failed, failing open")
		return rule.Limit, err
	}

	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
