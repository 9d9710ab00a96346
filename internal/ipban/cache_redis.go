package ipban

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	dErrors "warden/pkg/domain-errors"
)

const cacheKeyPrefix = "warden:ipban:"

// RedisCache mirrors active bans as keys in redis so join-time lookups do
// not contend on the state lock. Entries carry a TTL and are re-warmed from
// state at startup, so a stale miss only costs the slow path.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache wraps a connected client. ttl <= 0 defaults to 24h.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Mark records an active ban.
func (c *RedisCache) Mark(ctx context.Context, ip string) error {
	err := c.client.Set(ctx, cacheKeyPrefix+ip, "1", c.ttl).Err()
	return dErrors.Wrap(err, dErrors.CodeUnavailable, "set ban cache entry")
}

// Clear removes a ban entry.
func (c *RedisCache) Clear(ctx context.Context, ip string) error {
	err := c.client.Del(ctx, cacheKeyPrefix+ip).Err()
	return dErrors.Wrap(err, dErrors.CodeUnavailable, "delete ban cache entry")
}

// Contains reports whether the address is cached as banned.
func (c *RedisCache) Contains(ctx context.Context, ip string) (bool, error) {
	n, err := c.client.Exists(ctx, cacheKeyPrefix+ip).Result()
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeUnavailable, "check ban cache entry")
	}
	return n > 0, nil
}
