package identity

import (
	"context"
	"time"

	"dm_chat/internal/service/redis"
)

// Cache remembers external key -> user id. Entries never go stale because ids are immutable.
type Cache interface {
	Get(ctx context.Context, externalKey string) (string, bool, error)
	Set(ctx context.Context, externalKey, userID string) error
}

type RedisCache struct {
	redisService *redis.RedisService
	ttl          time.Duration
}

var _ Cache = (*RedisCache)(nil)

func NewRedisCache(redisSvc *redis.RedisService, ttl time.Duration) *RedisCache {
	return &RedisCache{redisService: redisSvc, ttl: ttl}
}

func cacheKey(externalKey string) string {
	return "dm:identity:" + externalKey
}

func (c *RedisCache) Get(ctx context.Context, externalKey string) (string, bool, error) {
	return c.redisService.Get(ctx, cacheKey(externalKey))
}

func (c *RedisCache) Set(ctx context.Context, externalKey, userID string) error {
	return c.redisService.Set(ctx, cacheKey(externalKey), userID, c.ttl)
}
