package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/example/face-blur/internal/faces"
)

const statusKeyPrefix = "faceblur:status:"

// Cache holds the last status record per source blob. Get returns redis.Nil
// for a key that was never written or has expired.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// RedisCache is the go-redis implementation of Cache.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps a connected client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Set writes a value with a TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

// Get reads a value.
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

// statusKey is keyed by source blob, so a redelivery overwrites the entry of
// the earlier attempt.
func statusKey(ref faces.BlobRef) string {
	return statusKeyPrefix + ref.String()
}

func encodeStatus(record StatusRecord) (string, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeStatus(raw string) (*StatusRecord, error) {
	var record StatusRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("decode cached status: %w", err)
	}
	if record.Container == "" || record.Key == "" {
		return nil, fmt.Errorf("decode cached status: missing blob reference")
	}
	return &record, nil
}
