package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"lloydsdigest/internal/core"
)

// RedisKeyPrefix namespaces fetch cache keys.
const RedisKeyPrefix = "lloydsdigest:fetch:"

// RedisCache keeps fetched pages in Redis with a TTL, so several runs or
// hosts can share one cache.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache wraps a connected client. A zero ttl keeps entries forever.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// GetFetch returns the cached result or nil on a miss.
func (c *RedisCache) GetFetch(ctx context.Context, key string) (*core.FetchResult, error) {
	raw, err := c.client.Get(ctx, RedisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read fetch cache: %w", err)
	}
	var res core.FetchResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("failed to decode fetch cache entry: %w", err)
	}
	return &res, nil
}

// PutFetch stores a result.
func (c *RedisCache) PutFetch(ctx context.Context, key string, result core.FetchResult) error {
	result.FromCache = false
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode fetch cache entry: %w", err)
	}
	if err := c.client.Set(ctx, RedisKeyPrefix+key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write fetch cache: %w", err)
	}
	return nil
}

// ClearFetchCache deletes every fetch entry and returns how many were removed.
func (c *RedisCache) ClearFetchCache(ctx context.Context) (int64, error) {
	var removed int64
	iter := c.client.Scan(ctx, 0, RedisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n, err := c.client.Del(ctx, iter.Val()).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to delete %s: %w", iter.Val(), err)
		}
		removed += n
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan fetch cache: %w", err)
	}
	return removed, nil
}
