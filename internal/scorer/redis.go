package scorer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache shares cached scores between server instances.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration // 0 = no expiry
}

// NewRedisCache connects to the Redis server at url.
// Returns error if connection fails.
func NewRedisCache(url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RedisCache{
		client: client,
		prefix: "tablearena:score:",
		ttl:    ttl,
	}, nil
}

func (rc *RedisCache) Name() string { return "redis" }

// Get treats every Redis failure as a miss; the scorer is always the fallback.
func (rc *RedisCache) Get(ctx context.Context, key string) (float64, bool) {
	score, err := rc.client.Get(ctx, rc.prefix+key).Float64()
	if err != nil {
		return 0, false
	}
	return score, true
}

func (rc *RedisCache) Set(ctx context.Context, key string, score float64) {
	_ = rc.client.Set(ctx, rc.prefix+key, score, rc.ttl).Err()
}

// Delete removes one cached score.
func (rc *RedisCache) Delete(ctx context.Context, key string) error {
	err := rc.client.Del(ctx, rc.prefix+key).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("deleting cached score: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}
