// Package locker provides token-owned leases for work that must run on one
// instance at a time.
package locker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrNotOwner is returned by Unlock and Refresh when the lock has expired or
// is held under a different token.
var ErrNotOwner = errors.New("lock not owned by this token")

type Locker interface {
	// TryLock acquires key for ttl without blocking. On success it returns
	// the token that must be presented to Unlock and Refresh.
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, string, error)
	Unlock(ctx context.Context, key, token string) error
	Refresh(ctx context.Context, key, token string, ttl time.Duration) error
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

var (
	unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisLocker stores a random token under the key with SET NX PX. Release
// and refresh compare the token atomically in a script.
type RedisLocker struct {
	client redis.Cmdable
	logger zerolog.Logger
}

func NewRedisLocker(client redis.Cmdable, logger zerolog.Logger) *RedisLocker {
	return &RedisLocker{client: client, logger: logger.With().Str("component", "locker").Logger()}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, string, error) {
	token := uuid.NewString()
	acquired, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, "", fmt.Errorf("setnx %s: %w", key, err)
	}
	if !acquired {
		l.logger.Debug().Str("key", key).Msg("lock held elsewhere")
		return false, "", nil
	}
	l.logger.Debug().Str("key", key).Dur("ttl", ttl).Msg("lock acquired")
	return true, token, nil
}

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	n, err := unlockScript.Run(ctx, l.client, []string{key}, token).Int()
	if err != nil {
		return fmt.Errorf("unlock %s: %w", key, err)
	}
	if n == 0 {
		return ErrNotOwner
	}
	return nil
}

func (l *RedisLocker) Refresh(ctx context.Context, key, token string, ttl time.Duration) error {
	n, err := refreshScript.Run(ctx, l.client, []string{key}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("refresh %s: %w", key, err)
	}
	if n == 0 {
		return ErrNotOwner
	}
	return nil
}

// LocalLocker is an in-process Locker for single-instance deployments
// without redis.
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]lease
	nowFn func() time.Time
}

type lease struct {
	token   string
	expires time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]lease), nowFn: time.Now}
}

func (l *LocalLocker) TryLock(_ context.Context, key string, ttl time.Duration) (bool, string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.nowFn()
	if cur, ok := l.held[key]; ok && now.Before(cur.expires) {
		return false, "", nil
	}
	token := uuid.NewString()
	l.held[key] = lease{token: token, expires: now.Add(ttl)}
	return true, token, nil
}

func (l *LocalLocker) owned(key, token string) bool {
	cur, ok := l.held[key]
	return ok && cur.token == token && l.nowFn().Before(cur.expires)
}

func (l *LocalLocker) Unlock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.owned(key, token) {
		return ErrNotOwner
	}
	delete(l.held, key)
	return nil
}

func (l *LocalLocker) Refresh(_ context.Context, key, token string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.owned(key, token) {
		return ErrNotOwner
	}
	l.held[key] = lease{token: token, expires: l.nowFn().Add(ttl)}
	return nil
}

var (
	_ Locker = (*RedisLocker)(nil)
	_ Locker = (*LocalLocker)(nil)
)
