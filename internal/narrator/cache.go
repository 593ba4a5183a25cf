// Package narrator generates spoken guide text for tour waypoints. It
// asks a generative-language API for a short narration per waypoint and
// memoizes the result so each waypoint is billed at most once; when the
// API is unreachable the waypoint's stored description is used instead.
package narrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores generated narrations keyed by waypoint identity. A miss
// is reported as ok=false, never as an error.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, text string)
}

// RedisCache keeps narrations in Redis under a shared prefix with a
// TTL, so regenerations happen at most once per expiry window and the
// cache survives restarts.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache wraps an existing Redis client. A non-positive ttl
// defaults to 24h.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.client.Get(ctx, "narration:"+key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			// Cache trouble must never block narration.
			return "", false
		}
		return "", false
	}
	return val, true
}

func (c *RedisCache) Set(ctx context.Context, key, text string) {
	_ = c.client.Set(ctx, "narration:"+key, text, c.ttl).Err()
}

// MemoryCache is an in-process Cache for tests and for deployments
// without Redis.
type MemoryCache struct {
	mu sync.RWMutex
	m  map[string]string
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{m: make(map[string]string)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.m[key]
	return v, ok
}

func (c *MemoryCache) Set(_ context.Context, key, text string) {
	c.mu.Lock()
	c.m[key] = text
	c.mu.Unlock()
}

// cacheKey identifies a narration by route, waypoint and the inputs the
// prompt is built from, so edits to a waypoint invalidate its entry.
func cacheKey(routeID, waypointID uint64, name, baseDesc string) string {
	return fmt.Sprintf("%d:%d:%s:%s", routeID, waypointID, name, baseDesc)
}
