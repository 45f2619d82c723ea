package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by backends when a key does not exist.
var ErrMiss = errors.New("cache: key not found")

// Backend is the minimal key-value contract the cache service needs.
// Any store with TTL support and a ping satisfies it.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	DeletePattern(ctx context.Context, pattern string) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// ──────────────────────────────────────────────────────────────────────
// Redis backend (go-redis v9)
// ──────────────────────────────────────────────────────────────────────

// RedisBackend wraps go-redis v9. If Redis is unreachable at boot the
// engine falls back to the in-memory backend in main.go.
type RedisBackend struct {
	rdb *redis.Client
}

// NewRedisBackend connects and pings the Redis server.
func NewRedisBackend(addr, password string, db int) (*RedisBackend, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	log.Printf("[Cache] Redis connected: %s (db %d)", addr, db)
	return &RedisBackend{rdb: rdb}, nil
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := b.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrMiss
	}
	return val, err
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.rdb.Set(ctx, key, value, ttl).Err()
}

func (b *RedisBackend) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return b.rdb.Del(ctx, keys...).Err()
}

// DeletePattern removes all keys matching a glob pattern using SCAN to
// avoid blocking the server the way KEYS would.
func (b *RedisBackend) DeletePattern(ctx context.Context, pattern string) (int, error) {
	deleted := 0
	iter := b.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	batch := make([]string, 0, 100)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 100 {
			if err := b.rdb.Del(ctx, batch...).Err(); err != nil {
				return deleted, err
			}
			deleted += len(batch)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, err
	}
	if len(batch) > 0 {
		if err := b.rdb.Del(ctx, batch...).Err(); err != nil {
			return deleted, err
		}
		deleted += len(batch)
	}
	return deleted, nil
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

func (b *RedisBackend) Close() error {
	return b.rdb.Close()
}

// ──────────────────────────────────────────────────────────────────────
// In-memory backend
//
// Boot fallback when Redis is not configured, and the backend used by
// unit tests. TTL is enforced lazily on read.
// ──────────────────────────────────────────────────────────────────────

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]memEntry
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]memEntry)}
}

func (b *MemoryBackend) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	entry, ok := b.entries[key]
	b.mu.RUnlock()
	if !ok {
		return nil, ErrMiss
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		b.mu.Lock()
		delete(b.entries, key)
		b.mu.Unlock()
		return nil, ErrMiss
	}
	return entry.value, nil
}

func (b *MemoryBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	b.mu.Lock()
	b.entries[key] = memEntry{value: value, expiresAt: expires}
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Del(ctx context.Context, keys ...string) error {
	b.mu.Lock()
	for _, k := range keys {
		delete(b.entries, k)
	}
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) DeletePattern(ctx context.Context, pattern string) (int, error) {
	// Only prefix globs ("prefix*") are needed by the engine.
	prefix := pattern
	if n := len(pattern); n > 0 && pattern[n-1] == '*' {
		prefix = pattern[:n-1]
	}
	deleted := 0
	b.mu.Lock()
	for k := range b.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(b.entries, k)
			deleted++
		}
	}
	b.mu.Unlock()
	return deleted, nil
}

func (b *MemoryBackend) Ping(ctx context.Context) error { return nil }

func (b *MemoryBackend) Close() error { return nil }
