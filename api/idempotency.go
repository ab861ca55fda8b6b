package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeduper stores processed move idempotency keys in Redis so all
// instances can avoid reapplying the same move command.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(site, key string) string {
	return fmt.Sprintf("moves:%s:%s", site, key)
}

// Add records the key if it does not already exist. It returns true when the
// key was newly added.
func (r *RedisDeduper) Add(ctx context.Context, site, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(site, key), 1, r.ttl).Result()
}

// Remove deletes a previously recorded key. It is used when applying the
// move fails so the client may retry it after re-hydrating.
func (r *RedisDeduper) Remove(ctx context.Context, site, key string) error {
	return r.client.Del(ctx, r.key(site, key)).Err()
}
