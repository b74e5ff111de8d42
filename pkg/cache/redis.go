package cache

import (
	"context"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

type Redis struct {
	c *rdb.Client
}

// NewRedis returns a cache backed by the given Redis client, for
// sharing discovery documents and key sets across instances.
func NewRedis(client *rdb.Client) *Redis {
	return &Redis{c: client}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := r.c.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return b, true
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.c.Set(ctx, key, value, ttl).Err()
}
