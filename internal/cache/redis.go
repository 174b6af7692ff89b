package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"growthmap/server/internal/analytics"
	"growthmap/server/internal/models"
)

const generationKey = "agg:generation"

// RedisCache stores aggregation results in Redis. Entries are namespaced by a
// generation counter, so invalidation is a single INCR and stale entries age
// out through their TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// Ensure RedisCache implements the AggregateCache interface
var _ analytics.AggregateCache = (*RedisCache)(nil)

func NewRedisCache(addr, password string, db int, ttl time.Duration) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisCacheWithClient(client, ttl)
}

func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (r *RedisCache) generation(ctx context.Context) (int64, error) {
	gen, err := r.client.Get(ctx, generationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func entryKey(gen int64, key string) string {
	return fmt.Sprintf("agg:%d:%s", gen, key)
}

// Get returns the entry for key in the current generation. The generation is
// returned on a miss too, and must be handed back to Set.
func (r *RedisCache) Get(ctx context.Context, key string) ([]models.AggregateStat, int64, bool, error) {
	gen, err := r.generation(ctx)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to read cache generation: %w", err)
	}

	data, err := r.client.Get(ctx, entryKey(gen, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, gen, false, nil
		}
		return nil, 0, false, err
	}

	var stats []models.AggregateStat
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, 0, false, fmt.Errorf("failed to unmarshal aggregate: %w", err)
	}
	return stats, gen, true, nil
}

// Set stores stats under the generation observed by the Get that missed. A
// result computed across an invalidation lands in a generation nobody reads.
func (r *RedisCache) Set(ctx context.Context, key string, gen int64, stats []models.AggregateStat) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal aggregate: %w", err)
	}
	return r.client.Set(ctx, entryKey(gen, key), data, r.ttl).Err()
}

// Invalidate drops every cached aggregate.
func (r *RedisCache) Invalidate(ctx context.Context) error {
	return r.client.Incr(ctx, generationKey).Err()
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
