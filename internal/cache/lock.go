// Package cache holds the cross-process locks that guard write-once caches.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// Unlock releases a held lock. It is safe to call more than once.
type Unlock func(ctx context.Context) error

// Locker grants short-lived exclusive ownership of a key. ok is false when
// another owner currently holds it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock Unlock, ok bool, err error)
}

// releaseScript deletes the key only while it still carries our token, so an
// expired lock re-acquired by someone else is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX on a shared Redis.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker connects to redisURL and verifies the connection.
func NewRedisLocker(ctx context.Context, redisURL, prefix string) (*RedisLocker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisLocker{client: client, prefix: prefix}, nil
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}

func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *RedisLocker) key(k string) string {
	return l.prefix + k
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Unlock, bool, error) {
	token := ulid.Make().String()
	full := l.key(key)
	ok, err := l.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", full, err)
	}
	if !ok {
		return nil, false, nil
	}
	var once sync.Once
	unlock := func(ctx context.Context) error {
		var err error
		once.Do(func() {
			err = releaseScript.Run(ctx, l.client, []string{full}, token).Err()
			if errors.Is(err, redis.Nil) {
				err = nil
			}
		})
		return err
	}
	return unlock, true, nil
}

// MemoryLocker is the single-process Locker used when no Redis is configured.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]memoryLease
	now  func() time.Time
}

type memoryLease struct {
	token   string
	expires time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: map[string]memoryLease{}, now: time.Now}
}

func (l *MemoryLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Unlock, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if lease, ok := l.held[key]; ok && (lease.expires.IsZero() || now.Before(lease.expires)) {
		return nil, false, nil
	}
	lease := memoryLease{token: ulid.Make().String()}
	if ttl > 0 {
		lease.expires = now.Add(ttl)
	}
	l.held[key] = lease
	unlock := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if cur, ok := l.held[key]; ok && cur.token == lease.token {
			delete(l.held, key)
		}
		return nil
	}
	return unlock, true, nil
}
