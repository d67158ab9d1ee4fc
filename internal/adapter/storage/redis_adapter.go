package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix  = "storefront:"
	idempotencyKeyTTL = 24 * time.Hour
)

// RedisAdapter stores checkout idempotency keys so a retried request is
// recognised across restarts.
type RedisAdapter struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisAdapter(client *redis.Client, prefix string, ttl time.Duration) *RedisAdapter {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = idempotencyKeyTTL
	}
	return &RedisAdapter{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+key, 1, r.ttl).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}
