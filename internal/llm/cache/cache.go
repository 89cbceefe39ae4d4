// Package cache memoizes validated structured results by input digest. A hit
// skips the model call entirely; entries are revalidated against their shape
// on every read and evicted when they no longer decode. Store failures degrade
// to computing without the cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ahrav/go-callqa/internal/domain"
	"github.com/ahrav/go-callqa/internal/llm/configuration"
	"github.com/ahrav/go-callqa/internal/llm/transport"
)

// ErrTTLOutOfRange is returned when the configured TTL is outside the
// supported window.
var ErrTTLOutOfRange = errors.New("cache ttl out of range")

// Store is the byte-level backend behind a ResultCache.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// entry is the stored envelope.
type entry struct {
	Shape     string          `json:"shape"`
	CreatedAt time.Time       `json:"created_at"`
	Value     json.RawMessage `json:"value"`
}

// ResultCache is shared by all requests. Concurrent computes for the same
// key are tolerated; the last write wins.
type ResultCache struct {
	store   Store
	ttl     time.Duration
	prefix  string
	enabled bool
	now     func() time.Time
	logger  *slog.Logger

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	errors    atomic.Int64
}

// Option configures a ResultCache.
type Option func(*ResultCache)

// WithClock overrides the clock used for CreatedAt and age checks.
func WithClock(now func() time.Time) Option {
	return func(c *ResultCache) { c.now = now }
}

// New creates a ResultCache over store. A disabled config yields a cache
// that always computes.
func New(cfg configuration.CacheConfig, store Store, opts ...Option) (*ResultCache, error) {
	if cfg.Enabled && (cfg.TTL < configuration.MinCacheTTL || cfg.TTL > configuration.MaxCacheTTL) {
		return nil, fmt.Errorf("%w: %v not within [%v, %v]",
			ErrTTLOutOfRange, cfg.TTL, configuration.MinCacheTTL, configuration.MaxCacheTTL)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = configuration.DefaultCacheKeyPrefix
	}
	c := &ResultCache{
		store:   store,
		ttl:     cfg.TTL,
		prefix:  prefix,
		enabled: cfg.Enabled && store != nil,
		now:     time.Now,
		logger:  slog.Default().With("component", "cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Key returns the storage key for a shape and input digest.
func (c *ResultCache) Key(shape, digest string) string {
	return transport.CacheKey(c.prefix, shape, digest)
}

// GetOrCompute returns the cached result for (shape of T, digest) or runs
// compute, stores its result and returns it. Only results compute returns
// without error are stored, and only after they validate. hit reports whether
// compute was skipped.
func GetOrCompute[T domain.Result](
	ctx context.Context,
	c *ResultCache,
	digest string,
	compute func(context.Context) (T, error),
) (result T, hit bool, err error) {
	var zero T
	shape := zero.ShapeName()

	if c == nil || !c.enabled || digest == "" {
		result, err = compute(ctx)
		return result, false, err
	}

	key := c.Key(shape, digest)
	if cached, ok := lookup[T](ctx, c, key, shape); ok {
		c.hits.Add(1)
		c.logger.Debug("cache hit", "key", key, "shape", shape)
		return cached, true, nil
	}
	c.misses.Add(1)

	result, err = compute(ctx)
	if err != nil {
		return result, false, err
	}
	c.put(ctx, key, shape, result)
	return result, false, nil
}

// lookup reads and revalidates an entry. Any undecodable, mismatched, stale
// or invalid entry is evicted and reported as a miss.
func lookup[T domain.Result](ctx context.Context, c *ResultCache, key, shape string) (T, bool) {
	var zero T

	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.errors.Add(1)
		c.logger.Warn("cache read failed", "key", key, "error", err)
		return zero, false
	}
	if !ok {
		return zero, false
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.evict(ctx, key, "undecodable envelope", err)
		return zero, false
	}
	if e.Shape != shape {
		c.evict(ctx, key, "shape mismatch", nil)
		return zero, false
	}
	if age := c.now().Sub(e.CreatedAt); age < 0 || age > c.ttl {
		c.evict(ctx, key, "stale entry", nil)
		return zero, false
	}

	fresh, err := domain.NewResult(shape)
	if err != nil {
		c.evict(ctx, key, "unknown shape", err)
		return zero, false
	}
	typed, ok := fresh.(T)
	if !ok {
		c.evict(ctx, key, "shape type mismatch", nil)
		return zero, false
	}
	if err := json.Unmarshal(e.Value, typed); err != nil {
		c.evict(ctx, key, "undecodable value", err)
		return zero, false
	}
	if err := typed.Validate(); err != nil {
		c.evict(ctx, key, "invalid value", err)
		return zero, false
	}
	return typed, true
}

func (c *ResultCache) put(ctx context.Context, key, shape string, result domain.Result) {
	if err := result.Validate(); err != nil {
		c.logger.Warn("refusing to cache invalid result", "key", key, "error", err)
		return
	}
	value, err := json.Marshal(result)
	if err != nil {
		c.errors.Add(1)
		c.logger.Warn("cache encode failed", "key", key, "error", err)
		return
	}
	raw, err := json.Marshal(entry{Shape: shape, CreatedAt: c.now().UTC(), Value: value})
	if err != nil {
		c.errors.Add(1)
		return
	}
	if err := c.store.Set(ctx, key, raw, c.ttl); err != nil {
		c.errors.Add(1)
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

func (c *ResultCache) evict(ctx context.Context, key, reason string, cause error) {
	c.evictions.Add(1)
	c.logger.Info("evicting cache entry", "key", key, "reason", reason, "error", cause)
	if err := c.store.Delete(ctx, key); err != nil {
		c.errors.Add(1)
		c.logger.Warn("cache delete failed", "key", key, "error", err)
	}
}
