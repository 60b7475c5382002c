// Package cache provides optional Redis-backed caching of GetEnrollments
// results: a single prefixed key, invalidated by the caller after any write.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix           = "enrollcore:cache:"
	enrollmentsCacheKey = "enrollments:v1"
)

// Cache provides Redis-backed response caching. A nil *Cache is valid and
// behaves as an always-miss cache, so callers can make it optional without
// branching on every call site.
type Cache struct {
	client *redis.Client
	logger *slog.Logger
}

// New creates a new Redis-backed cache and verifies connectivity.
func New(redisURL string, logger *slog.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &Cache{client: client, logger: logger}, nil
}

// GetEnrollments returns the cached enrollments view, or ok=false on a miss.
func (c *Cache) GetEnrollments(ctx context.Context, v any) (bool, error) {
	if c == nil {
		return false, nil
	}
	data, err := c.get(ctx, enrollmentsCacheKey)
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

// SetEnrollments caches the enrollments view with the given TTL.
func (c *Cache) SetEnrollments(ctx context.Context, v any, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, keyPrefix+enrollmentsCacheKey, data, ttl).Err()
}

// Invalidate drops the cached enrollments view. Called after every
// successful evolve/opt-in/opt-out write so stale views are never served.
func (c *Cache) Invalidate(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.client.Del(ctx, keyPrefix+enrollmentsCacheKey).Err()
}

func (c *Cache) get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}
