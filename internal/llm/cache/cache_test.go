package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-callqa/internal/domain"
	"github.com/ahrav/go-callqa/internal/llm/cache"
	"github.com/ahrav/go-callqa/internal/llm/configuration"
)

func enabledConfig() configuration.CacheConfig {
	return configuration.CacheConfig{
		Enabled:   true,
		TTL:       configuration.DefaultCacheTTL,
		KeyPrefix: "test",
	}
}

func communication() *domain.Communication {
	return &domain.Communication{
		Skills: []domain.CommunicationSkill{
			{Skill: "Empathy", Rating: domain.RatingExceeded},
			{Skill: "Clarity", Rating: domain.RatingMet},
		},
		Summary: domain.CommunicationSummary{
			Exceeded: []string{"Empathy"},
			Met:      []string{"Clarity"},
		},
	}
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func TestNew_RejectsTTLOutsideWindow(t *testing.T) {
	for _, ttl := range []time.Duration{29 * time.Minute, 61 * time.Minute} {
		cfg := enabledConfig()
		cfg.TTL = ttl
		_, err := cache.New(cfg, cache.NewMemoryStore(nil))
		require.ErrorIs(t, err, cache.ErrTTLOutOfRange)
	}
}

func TestGetOrCompute_HitSkipsCompute(t *testing.T) {
	c, err := cache.New(enabledConfig(), cache.NewMemoryStore(nil))
	require.NoError(t, err)
	ctx := context.Background()

	calls := 0
	compute := func(context.Context) (*domain.Communication, error) {
		calls++
		return communication(), nil
	}

	first, hit, err := cache.GetOrCompute(ctx, c, "digest-1", compute)
	require.NoError(t, err)
	assert.False(t, hit)

	second, hit, err := cache.GetOrCompute(ctx, c, "digest-1", compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
}

func TestGetOrCompute_ErrorsAreNotCached(t *testing.T) {
	store := cache.NewMemoryStore(nil)
	c, err := cache.New(enabledConfig(), store)
	require.NoError(t, err)

	boom := errors.New("provider down")
	_, _, err = cache.GetOrCompute(context.Background(), c, "d", func(context.Context) (*domain.Communication, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, store.Len())
}

func TestGetOrCompute_InvalidResultsAreNotCached(t *testing.T) {
	store := cache.NewMemoryStore(nil)
	c, err := cache.New(enabledConfig(), store)
	require.NoError(t, err)

	bad := communication()
	bad.Summary.Missed = []string{"Empathy"}

	got, _, err := cache.GetOrCompute(context.Background(), c, "d", func(context.Context) (*domain.Communication, error) {
		return bad, nil
	})
	require.NoError(t, err)
	assert.Same(t, bad, got)
	assert.Equal(t, 0, store.Len())
}

func TestGetOrCompute_ExpiredEntryRecomputes(t *testing.T) {
	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	c, err := cache.New(enabledConfig(), cache.NewMemoryStore(clk.Now), cache.WithClock(clk.Now))
	require.NoError(t, err)

	calls := 0
	compute := func(context.Context) (*domain.Communication, error) {
		calls++
		return communication(), nil
	}
	ctx := context.Background()

	_, _, err = cache.GetOrCompute(ctx, c, "d", compute)
	require.NoError(t, err)

	clk.now = clk.now.Add(44 * time.Minute)
	_, hit, err := cache.GetOrCompute(ctx, c, "d", compute)
	require.NoError(t, err)
	assert.True(t, hit)

	clk.now = clk.now.Add(2 * time.Minute)
	_, hit, err = cache.GetOrCompute(ctx, c, "d", compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, calls)
}

func TestGetOrCompute_CorruptEntryIsEvicted(t *testing.T) {
	store := cache.NewMemoryStore(nil)
	c, err := cache.New(enabledConfig(), store)
	require.NoError(t, err)
	ctx := context.Background()

	key := c.Key(domain.ShapeCommunication, "d")
	require.NoError(t, store.Set(ctx, key, []byte(`{"shape":"Communication","created_at":"`+
		time.Now().UTC().Format(time.RFC3339Nano)+`","value":{"skills":[{"skill":"x","rating":"Stellar"}]}}`), time.Hour))

	_, hit, err := cache.GetOrCompute(ctx, c, "d", func(context.Context) (*domain.Communication, error) {
		return communication(), nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, int64(1), c.Stats().Evictions)

	_, hit, err = cache.GetOrCompute(ctx, c, "d", func(context.Context) (*domain.Communication, error) {
		t.Fatal("entry should have been replaced")
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestGetOrCompute_ShapesDoNotCollide(t *testing.T) {
	c, err := cache.New(enabledConfig(), cache.NewMemoryStore(nil))
	require.NoError(t, err)
	ctx := context.Background()

	_, _, err = cache.GetOrCompute(ctx, c, "same", func(context.Context) (*domain.Communication, error) {
		return communication(), nil
	})
	require.NoError(t, err)

	computed := false
	_, hit, err := cache.GetOrCompute(ctx, c, "same", func(context.Context) (*domain.Compliance, error) {
		computed = true
		return &domain.Compliance{}, nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.True(t, computed)
}

func TestGetOrCompute_Disabled(t *testing.T) {
	c, err := cache.New(configuration.CacheConfig{}, nil)
	require.NoError(t, err)

	calls := 0
	for range 2 {
		_, hit, err := cache.GetOrCompute(context.Background(), c, "d", func(context.Context) (*domain.Communication, error) {
			calls++
			return communication(), nil
		})
		require.NoError(t, err)
		assert.False(t, hit)
	}
	assert.Equal(t, 2, calls)
}

func TestRedisStore_RoundTripAndDegradation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c, err := cache.New(enabledConfig(), cache.NewRedisStore(client))
	require.NoError(t, err)
	ctx := context.Background()

	calls := 0
	compute := func(context.Context) (*domain.Communication, error) {
		calls++
		return communication(), nil
	}

	_, _, err = cache.GetOrCompute(ctx, c, "d", compute)
	require.NoError(t, err)
	key := c.Key(domain.ShapeCommunication, "d")
	assert.True(t, mr.Exists(key))
	assert.Equal(t, configuration.DefaultCacheTTL, mr.TTL(key))

	_, hit, err := cache.GetOrCompute(ctx, c, "d", compute)
	require.NoError(t, err)
	assert.True(t, hit)

	// Redis outage: compute still succeeds.
	mr.Close()
	_, hit, err = cache.GetOrCompute(ctx, c, "d", compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, calls)
	assert.Positive(t, c.Stats().Errors)
}

func TestOpenStore(t *testing.T) {
	store, client := cache.OpenStore(context.Background(), configuration.CacheConfig{})
	assert.IsType(t, &cache.MemoryStore{}, store)
	assert.Nil(t, client)

	mr := miniredis.RunT(t)
	store, client = cache.OpenStore(context.Background(), configuration.CacheConfig{RedisAddr: mr.Addr()})
	require.NotNil(t, client)
	t.Cleanup(func() { _ = client.Close() })
	assert.IsType(t, &cache.RedisStore{}, store)
}
