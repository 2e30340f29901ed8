package sequence

import (
	"context"

	"dm_chat/internal/service/redis"
)

const messageIDKey = "dm:seq:message_id"

// Redis shares one counter between every server instance using the same Redis.
type Redis struct {
	redisService *redis.RedisService
}

var _ Generator = (*Redis)(nil)

func NewRedis(redisSvc *redis.RedisService) *Redis {
	return &Redis{redisService: redisSvc}
}

func (r *Redis) Next(ctx context.Context) (int64, error) {
	return r.redisService.Incr(ctx, messageIDKey)
}

func (r *Redis) AdvanceTo(ctx context.Context, floor int64) error {
	_, err := r.redisService.RaiseTo(ctx, messageIDKey, floor)
	return err
}
