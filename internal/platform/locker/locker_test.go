package locker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLocker(client, zerolog.Nop()), mr
}

func TestRedisLocker_TryLockExclusive(t *testing.T) {
	l, _ := newRedisLocker(t)
	ctx := context.Background()

	ok, token, err := l.TryLock(ctx, "reminders:leader", time.Minute)
	if err != nil || !ok || token == "" {
		t.Fatalf("expected first lock to succeed, got ok=%v token=%q err=%v", ok, token, err)
	}

	ok, other, err := l.TryLock(ctx, "reminders:leader", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok || other != "" {
		t.Error("expected second lock to fail while the first is held")
	}
}

func TestRedisLocker_UnlockRequiresToken(t *testing.T) {
	l, mr := newRedisLocker(t)
	ctx := context.Background()

	_, token, _ := l.TryLock(ctx, "k", time.Minute)
	if err := l.Unlock(ctx, "k", "someone-else"); !errors.Is(err, ErrNotOwner) {
		t.Errorf("expected ErrNotOwner, got %v", err)
	}
	if !mr.Exists("k") {
		t.Fatal("foreign unlock must not delete the key")
	}
	if err := l.Unlock(ctx, "k", token); err != nil {
		t.Fatalf("unexpected unlock error: %v", err)
	}
	if mr.Exists("k") {
		t.Error("expected key to be deleted")
	}

	ok, _, _ := l.TryLock(ctx, "k", time.Minute)
	if !ok {
		t.Error("expected lock to be free after unlock")
	}
}

func TestRedisLocker_ExpiryAndRefresh(t *testing.T) {
	l, mr := newRedisLocker(t)
	ctx := context.Background()

	_, token, _ := l.TryLock(ctx, "k", 10*time.Second)
	mr.FastForward(6 * time.Second)
	if err := l.Refresh(ctx, "k", token, 10*time.Second); err != nil {
		t.Fatalf("unexpected refresh error: %v", err)
	}
	mr.FastForward(6 * time.Second)
	if !mr.Exists("k") {
		t.Fatal("expected refreshed lock to survive past the original ttl")
	}

	mr.FastForward(5 * time.Second)
	if err := l.Refresh(ctx, "k", token, 10*time.Second); !errors.Is(err, ErrNotOwner) {
		t.Errorf("expected ErrNotOwner after expiry, got %v", err)
	}
}

func TestLocalLocker(t *testing.T) {
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	l := NewLocalLocker()
	l.nowFn = func() time.Time { return now }
	ctx := context.Background()

	ok, token, _ := l.TryLock(ctx, "k", time.Minute)
	if !ok {
		t.Fatal("expected lock")
	}
	if ok, _, _ := l.TryLock(ctx, "k", time.Minute); ok {
		t.Error("expected lock to be held")
	}
	if err := l.Unlock(ctx, "k", "wrong"); !errors.Is(err, ErrNotOwner) {
		t.Errorf("expected ErrNotOwner, got %v", err)
	}

	now = now.Add(30 * time.Second)
	if err := l.Refresh(ctx, "k", token, time.Minute); err != nil {
		t.Fatalf("unexpected refresh error: %v", err)
	}
	now = now.Add(45 * time.Second)
	if ok, _, _ := l.TryLock(ctx, "k", time.Minute); ok {
		t.Error("refreshed lock should still be held")
	}

	now = now.Add(time.Minute)
	ok, _, _ = l.TryLock(ctx, "k", time.Minute)
	if !ok {
		t.Error("expected expired lock to be reacquirable")
	}
	if err := l.Unlock(ctx, "k", token); !errors.Is(err, ErrNotOwner) {
		t.Errorf("stale token must not unlock, got %v", err)
	}
}
