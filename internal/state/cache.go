package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a TTL'd byte cache. The store keeps short-lived lookup results
// here (mud info, who results, locate results). The in-memory backend is the
// default; a Redis backend can be selected by config so several gateway
// instances share warm entries.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	// Get returns the cached value, or false on a miss. A read past the
	// entry's expiry is a miss and evicts the entry.
	Get(ctx context.Context, key string) ([]byte, bool)
	Delete(ctx context.Context, key string)
	// Sweep drops expired entries and returns how many were removed.
	Sweep(ctx context.Context) int
	Close() error
}

type cacheEntry struct {
	value  []byte
	expiry time.Time
}

// MemoryCache is the default in-process Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewMemoryCache returns an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]cacheEntry)}
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expiry: time.Now().Add(ttl)}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiry) {
		c.mu.Lock()
		// Re-check under the write lock; another writer may have refreshed it.
		if cur, ok := c.entries[key]; ok && time.Now().After(cur.expiry) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

func (c *MemoryCache) Delete(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *MemoryCache) Sweep(_ context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	removed := 0
	for k, e := range c.entries {
		if now.After(e.expiry) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

func (c *MemoryCache) Close() error { return nil }

// Len reports the live entry count, for stats.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// RedisCache implements Cache over go-redis. Expiry is delegated to Redis,
// so Sweep is a no-op.
type RedisCache struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisCache connects to Redis and pings it. The caller decides whether
// to fall back to the in-memory cache on error.
func NewRedisCache(addr, password string, db int, prefix string) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}
	return &RedisCache{rdb: rdb, prefix: prefix}, nil
}

func (c *RedisCache) key(k string) string { return c.prefix + k }

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	c.rdb.Set(ctx, c.key(key), value, ttl)
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		return nil, false
	}
	return val, true
}

func (c *RedisCache) Delete(ctx context.Context, key string) {
	c.rdb.Del(ctx, c.key(key))
}

func (c *RedisCache) Sweep(context.Context) int { return 0 }

func (c *RedisCache) Close() error { return c.rdb.Close() }
