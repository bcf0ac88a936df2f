package access

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores per-user accessible client-id sets.
type Cache interface {
	Get(ctx context.Context, userID string) ([]string, bool, error)
	Set(ctx context.Context, userID string, clientIDs []string) error
	Invalidate(ctx context.Context, userID string) error
}

const cacheKeyPrefix = "stats:access:user:"

// RedisCache keeps client-id sets in Redis as JSON arrays with a fixed TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed Cache.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, userID string) ([]string, bool, error) {
	raw, err := c.client.Get(ctx, cacheKeyPrefix+userID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read access cache: %w", err)
	}

	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, false, fmt.Errorf("failed to decode access cache entry: %w", err)
	}
	return ids, true, nil
}

func (c *RedisCache) Set(ctx context.Context, userID string, clientIDs []string) error {
	if clientIDs == nil {
		clientIDs = []string{}
	}
	raw, err := json.Marshal(clientIDs)
	if err != nil {
		return fmt.Errorf("failed to encode access cache entry: %w", err)
	}
	if err := c.client.Set(ctx, cacheKeyPrefix+userID, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write access cache: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, cacheKeyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("failed to invalidate access cache: %w", err)
	}
	return nil
}

type noopCache struct{}

func (noopCache) Get(context.Context, string) ([]string, bool, error) { return nil, false, nil }
func (noopCache) Set(context.Context, string, []string) error         { return nil }
func (noopCache) Invalidate(context.Context, string) error            { return nil }
