package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache holds read-side aggregates in Redis. Keys are namespaced per org
// under the "agg:" prefix so the worker can drop an org's whole read side
// with one prefix invalidation after a successful event.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// ErrMiss is returned when a key is absent.
var ErrMiss = errors.New("cache miss")

func New(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

// OrgPrefix is the key prefix covering every aggregate of one org.
func OrgPrefix(orgID string) string {
	return "agg:" + orgID + ":"
}

// Get unmarshals the cached value at key into dest.
func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

// Set stores a value at key with the cache TTL.
func (c *Cache) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, c.ttl).Err()
}

// InvalidatePrefix deletes every key under prefix. Coarse on purpose: the
// worker trades precision for simplicity by wiping an org's aggregates on
// every successful event.
func (c *Cache) InvalidatePrefix(ctx context.Context, prefix string) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
