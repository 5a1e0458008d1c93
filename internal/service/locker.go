package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"support-service/internal/redisclient"
)

// Locker serializes work on a single key across requests
type Locker interface {
	// Acquire returns a release func, or ErrLockBusy when the key is held
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// RedisLocker holds locks in Redis so they span service instances
type RedisLocker struct {
	client *redisclient.Client
}

// NewRedisLocker creates a Redis-backed locker
func NewRedisLocker(client *redisclient.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// Acquire takes the lock with SET NX and releases it with a token check
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token, ok, err := l.client.AcquireLock(ctx, key, ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockBusy
	}
	return func() {
		// the request context may already be cancelled
		_ = l.client.ReleaseLock(context.Background(), key, token)
	}, nil
}

// LocalLocker holds locks in process memory
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker creates an in-process locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

// Acquire fails fast with ErrLockBusy instead of waiting. ttl is ignored.
func (l *LocalLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[key]; busy {
		return nil, ErrLockBusy
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}
