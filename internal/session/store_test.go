package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	s, err := NewStore(addr, time.Minute)
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_Lifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	token := uuid.New().String()

	created, err := s.Create(ctx, token, "user-1", "alice@example.com", "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Token != token {
		t.Errorf("token = %q", created.Token)
	}

	got, err := s.Get(ctx, token)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.UserID != "user-1" || got.Username != "alice" {
		t.Fatalf("unexpected session: %+v", got)
	}

	ttl, err := s.Client().TTL(ctx, SessionPrefix+token).Result()
	if err != nil {
		t.Fatalf("ttl: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("ttl = %s, want (0, 1m]", ttl)
	}

	if err := s.Touch(ctx, token); err != nil {
		t.Fatalf("touch: %v", err)
	}

	if err := s.Delete(ctx, token); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err = s.Get(ctx, token)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil session after delete, got %+v", got)
	}
}

func TestNewStoreWithClient_DefaultTTL(t *testing.T) {
	s := NewStoreWithClient(nil, 0)
	if s.TTL() != DefaultTTL {
		t.Errorf("TTL = %s, want %s", s.TTL(), DefaultTTL)
	}
}
