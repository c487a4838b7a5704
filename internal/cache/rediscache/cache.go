// Package rediscache implements cache.Cache on Redis for deployments that run
// several bot instances.
package rediscache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cloudspb/hostbot/internal/cache"
)

// Cache stores values under a key prefix.
type Cache struct {
	client *redis.Client
	prefix string
}

// New creates a Redis-backed cache. Keys are stored as prefix + ":" + key.
func New(client *redis.Client, prefix string) *Cache {
	if prefix == "" {
		prefix = "hostbot:cache"
	}
	return &Cache{client: client, prefix: prefix}
}

func (c *Cache) key(key string) string {
	return c.prefix + ":" + key
}

// Get implements cache.Cache.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, cache.ErrCacheMiss
	}
	return value, err
}

// Set implements cache.Cache.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.key(key), value, ttl).Err()
}

// Delete implements cache.Cache.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.key(key)).Err()
}

var _ cache.Cache = (*Cache)(nil)
