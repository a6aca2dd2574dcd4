package webhook

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupeKeyPrefix = "webhook:stripe:event:"

// RedisDeduper remembers processed provider event ids for a bounded time.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

// Claim marks the event as being processed. It reports false if the event
// was already claimed.
func (d *RedisDeduper) Claim(ctx context.Context, eventID string) (bool, error) {
	return d.client.SetNX(ctx, dedupeKeyPrefix+eventID, time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
}

// Release forgets the event so a redelivery is processed again.
func (d *RedisDeduper) Release(ctx context.Context, eventID string) error {
	return d.client.Del(ctx, dedupeKeyPrefix+eventID).Err()
}
