package depgraph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fluxbase-eu/tableengine/internal/tableengine/engineerr"
)

// CacheRepository is the pluggable cache backend DependencyGraph builds
// against. Keys are opaque byte blobs (JSON-encoded edge lists); TTL is
// enforced by the implementation, not the caller.
type CacheRepository interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// MemoryCache is an in-process, TTL-expiring CacheRepository, grounded on
// the same mutex-guarded map + lazy-expiry shape as
// internal/database's SchemaCache. Default backend; fine for a
// single-instance deployment, not for a multi-instance one (no
// invalidation fan-out — engine callers must invalidate every instance's
// cache themselves).
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryCache constructs an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(e.expires) {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	c.entries[key] = memoryEntry{value: value, expires: time.Now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := c.Get(ctx, key)
	return ok, err
}

// Sweep drops every entry already past its TTL and returns how many it
// removed. Expiry is otherwise only checked lazily on Get, so a table
// that's cached once and never read again would sit in entries forever;
// a process that calls Sweep on a schedule bounds that growth.
func (c *MemoryCache) Sweep() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// RedisCache is a CacheRepository backed by github.com/redis/go-redis/v9,
// for deployments that run more than one Table Engine instance and need
// invalidate() to take effect everywhere at once.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an already-connected *redis.Client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, engineerr.DBError(fmt.Errorf("redis cache get %s: %w", key, err))
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return engineerr.DBError(fmt.Errorf("redis cache set %s: %w", key, err))
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return engineerr.DBError(fmt.Errorf("redis cache delete %s: %w", key, err))
	}
	return nil
}

func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, engineerr.DBError(fmt.Errorf("redis cache exists %s: %w", key, err))
	}
	return n > 0, nil
}
