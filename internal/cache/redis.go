package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/tygr/ragserve/internal/monitoring"
)

// RedisStore caches document content in Redis. Entries are written without
// TTL: the cache is the only source of content for re-indexing, so eviction
// is an operator decision, not a timeout.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed content store
func NewRedisStore(redisURL, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	return &RedisStore{
		client: redis.NewClient(opts),
		prefix: prefix,
	}, nil
}

// Content returns the cached content for the given file key
func (s *RedisStore) Content(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			monitoring.RecordCacheMiss("redis")
			return "", false, nil
		}
		return "", false, fmt.Errorf("cache read failed for %s: %w", key, err)
	}
	monitoring.RecordCacheHit("redis")
	return val, true, nil
}

// Put caches content under the given file key
func (s *RedisStore) Put(ctx context.Context, key, content string) error {
	if err := s.client.Set(ctx, s.prefix+key, content, 0).Err(); err != nil {
		return fmt.Errorf("cache write failed for %s: %w", key, err)
	}
	return nil
}

// Delete removes a cached entry
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("cache delete failed for %s: %w", key, err)
	}
	return nil
}

// Health checks Redis connectivity
func (s *RedisStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}
