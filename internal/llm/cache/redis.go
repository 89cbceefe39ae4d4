package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ahrav/go-callqa/internal/llm/configuration"
)

const (
	defaultPoolSize   = 10
	connectionTimeout = 5 * time.Second
)

// RedisStore is a Store on Redis strings with native expiry.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// Get reads key; a missing key is not an error.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

// Set writes key with ttl.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// OpenStore picks the backend for cfg. With a Redis address it connects and
// pings; an unreachable Redis falls back to the in-process store so the
// service keeps running. The returned client is nil unless Redis is in use.
func OpenStore(ctx context.Context, cfg configuration.CacheConfig) (Store, *redis.Client) {
	if cfg.RedisAddr == "" {
		return NewMemoryStore(nil), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: defaultPoolSize,
	})

	timeoutCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()

	if err := client.Ping(timeoutCtx).Err(); err != nil {
		slog.Warn("Redis connection failed, using in-process cache", "addr", cfg.RedisAddr, "error", err)
		_ = client.Close()
		return NewMemoryStore(nil), nil
	}
	return NewRedisStore(client), client
}
