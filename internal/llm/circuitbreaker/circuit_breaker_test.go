package circuitbreaker_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-callqa/internal/llm/circuitbreaker"
	"github.com/ahrav/go-callqa/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-callqa/internal/llm/errors"
	"github.com/ahrav/go-callqa/internal/llm/transport"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errTransport = &llmerrors.ProviderError{
	Provider:   "openrouter",
	StatusCode: http.StatusBadGateway,
	Type:       llmerrors.ErrorTypeProvider,
}

func newBreaker(t *testing.T, clock *fakeClock) *circuitbreaker.Breaker {
	t.Helper()
	b, err := circuitbreaker.New("openrouter", circuitbreaker.Config{
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		Now:              clock.Now,
	})
	require.NoError(t, err)
	return b
}

func fail(context.Context) error    { return errTransport }
func succeed(context.Context) error { return nil }

func TestNew_InvalidConfig(t *testing.T) {
	_, err := circuitbreaker.New("x", circuitbreaker.Config{FailureThreshold: 0, OpenTimeout: time.Second})
	require.ErrorIs(t, err, circuitbreaker.ErrInvalidConfig)
	_, err = circuitbreaker.New("x", circuitbreaker.Config{FailureThreshold: 1})
	require.ErrorIs(t, err, circuitbreaker.ErrInvalidConfig)
}

func TestBreaker_OpensAfterThresholdAndFailsFast(t *testing.T) {
	clock := newFakeClock()
	b := newBreaker(t, clock)
	ctx := context.Background()

	for i := range 5 {
		require.ErrorIs(t, b.Execute(ctx, fail), errTransport, "call %d", i+1)
	}
	assert.Equal(t, circuitbreaker.StateOpen, b.State())
	assert.Equal(t, clock.Now(), b.Snapshot().OpenedAt)

	called := false
	err := b.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.False(t, called, "open breaker must not run the call")
	require.ErrorIs(t, err, llmerrors.ErrCircuitOpen)
	assert.Equal(t, llmerrors.KindCircuitOpen, llmerrors.KindOf(err))

	var cbErr *llmerrors.CircuitBreakerError
	require.ErrorAs(t, err, &cbErr)
	assert.Equal(t, "openrouter", cbErr.Dependency)
	assert.Equal(t, clock.Now().Add(30*time.Second).Unix(), cbErr.ResetAt)
}

func TestBreaker_SuccessResetsConsecutiveCount(t *testing.T) {
	b := newBreaker(t, newFakeClock())
	ctx := context.Background()

	for range 4 {
		_ = b.Execute(ctx, fail)
	}
	require.NoError(t, b.Execute(ctx, succeed))
	assert.Equal(t, 0, b.Snapshot().ConsecutiveFailures)

	for range 4 {
		_ = b.Execute(ctx, fail)
	}
	assert.Equal(t, circuitbreaker.StateClosed, b.State())
}

func TestBreaker_HalfOpenProbeSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	b := newBreaker(t, clock)
	ctx := context.Background()

	for range 5 {
		_ = b.Execute(ctx, fail)
	}
	clock.Advance(29 * time.Second)
	require.ErrorIs(t, b.Execute(ctx, succeed), llmerrors.ErrCircuitOpen)

	clock.Advance(time.Second)
	require.NoError(t, b.Execute(ctx, succeed))

	snap := b.Snapshot()
	assert.Equal(t, circuitbreaker.StateClosed, snap.State)
	assert.Equal(t, 0, snap.ConsecutiveFailures)
	assert.True(t, snap.OpenedAt.IsZero())
}

func TestBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := newBreaker(t, clock)
	ctx := context.Background()

	for range 5 {
		_ = b.Execute(ctx, fail)
	}
	clock.Advance(31 * time.Second)
	require.ErrorIs(t, b.Execute(ctx, fail), errTransport)

	snap := b.Snapshot()
	assert.Equal(t, circuitbreaker.StateOpen, snap.State)
	assert.Equal(t, clock.Now(), snap.OpenedAt, "timer restarts on probe failure")

	clock.Advance(10 * time.Second)
	require.ErrorIs(t, b.Execute(ctx, succeed), llmerrors.ErrCircuitOpen)
}

func TestBreaker_SingleProbeInFlight(t *testing.T) {
	clock := newFakeClock()
	b := newBreaker(t, clock)
	ctx := context.Background()

	for range 5 {
		_ = b.Execute(ctx, fail)
	}
	clock.Advance(30 * time.Second)

	var innerErr error
	err := b.Execute(ctx, func(ctx context.Context) error {
		assert.Equal(t, circuitbreaker.StateHalfOpen, b.State())
		innerErr = b.Execute(ctx, succeed)
		return nil
	})
	require.NoError(t, err)
	require.ErrorIs(t, innerErr, llmerrors.ErrCircuitOpen)
	assert.Equal(t, circuitbreaker.StateClosed, b.State())
}

func TestBreaker_IgnoresNonTransportOutcomes(t *testing.T) {
	b := newBreaker(t, newFakeClock())

	schema := &llmerrors.SchemaViolationError{Shape: "Compliance", Reason: "bad"}
	auth := &llmerrors.ProviderError{StatusCode: http.StatusUnauthorized, Type: llmerrors.ErrorTypeAuth}
	for range 10 {
		_ = b.Execute(context.Background(), func(context.Context) error { return schema })
		_ = b.Execute(context.Background(), func(context.Context) error { return auth })
	}
	assert.Equal(t, circuitbreaker.StateClosed, b.State())
}

func TestBreaker_CallerCancellationIsNotAFailure(t *testing.T) {
	b := newBreaker(t, newFakeClock())

	for range 10 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
		<-ctx.Done()
		err := b.Execute(ctx, func(ctx context.Context) error {
			return &llmerrors.ProviderError{Type: llmerrors.ErrorTypeTimeout, Message: ctx.Err().Error()}
		})
		cancel()
		require.Error(t, err)
	}
	assert.Equal(t, circuitbreaker.StateClosed, b.State())
	assert.Equal(t, 0, b.Snapshot().ConsecutiveFailures)
}

func TestRegistry_PerDependencyIsolation(t *testing.T) {
	clock := newFakeClock()
	var transitions []string
	reg, err := circuitbreaker.NewRegistry(configuration.CircuitBreakerConfig{
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		MaxBreakers:      2,
	},
		circuitbreaker.WithClock(clock.Now),
		circuitbreaker.WithStateListener(func(dep string, _, to circuitbreaker.CircuitState) {
			transitions = append(transitions, dep+":"+to.String())
		}),
	)
	require.NoError(t, err)

	ctx := context.Background()
	for range 5 {
		_ = reg.Execute(ctx, "openrouter", fail)
	}
	require.ErrorIs(t, reg.Execute(ctx, "openrouter", succeed), llmerrors.ErrCircuitOpen)
	require.NoError(t, reg.Execute(ctx, "anthropic", succeed))

	assert.Equal(t, []string{"openrouter:open"}, transitions)

	_, err = reg.Get("third")
	require.ErrorIs(t, err, circuitbreaker.ErrTooManyBreakers)

	stats := reg.Stats()
	assert.Equal(t, 2, stats.TotalBreakers)
	assert.Equal(t, 1, stats.StateCount["open"])
	assert.Equal(t, int64(1), stats.TotalRequestsRejected)
}

func TestRegistry_MiddlewareSixthCallFailsFast(t *testing.T) {
	reg, err := circuitbreaker.NewRegistry(configuration.CircuitBreakerConfig{
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	})
	require.NoError(t, err)

	var networkCalls int
	h := transport.Chain(transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		networkCalls++
		return nil, errTransport
	}), reg.Middleware())

	req := &transport.Request{Provider: "openrouter"}
	for range 5 {
		_, err := h.Handle(context.Background(), req)
		require.ErrorIs(t, err, errTransport)
	}
	_, err = h.Handle(context.Background(), req)
	require.ErrorIs(t, err, llmerrors.ErrCircuitOpen)
	assert.Equal(t, 5, networkCalls)
}

func TestRegistry_MiddlewareForUsesNamedBreaker(t *testing.T) {
	reg, err := circuitbreaker.NewRegistry(configuration.CircuitBreakerConfig{
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	})
	require.NoError(t, err)

	ctx := context.Background()
	for range 5 {
		_ = reg.Execute(ctx, "openrouter", fail)
	}

	var networkCalls int
	h := transport.Chain(transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		networkCalls++
		return &transport.Response{}, nil
	}), reg.MiddlewareFor("openrouter/gpt-4o-mini"))

	_, err = h.Handle(ctx, &transport.Request{Provider: "openrouter"})
	require.NoError(t, err, "the named breaker is independent of the provider's breaker")
	assert.Equal(t, 1, networkCalls)

	states := map[string]circuitbreaker.CircuitState{}
	for _, snap := range reg.Snapshots() {
		states[snap.Dependency] = snap.State
	}
	assert.Equal(t, circuitbreaker.StateOpen, states["openrouter"])
	assert.Equal(t, circuitbreaker.StateClosed, states["openrouter/gpt-4o-mini"])
}

func TestRegistry_ProbeGuard(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := newFakeClock()
	reg, err := circuitbreaker.NewRegistry(configuration.CircuitBreakerConfig{
		FailureThreshold: 1,
		OpenTimeout:      time.Second,
	}, circuitbreaker.WithClock(clock.Now), circuitbreaker.WithProbeGuard(client, time.Minute))
	require.NoError(t, err)

	ctx := context.Background()
	_ = reg.Execute(ctx, "openrouter", fail)
	clock.Advance(2 * time.Second)

	// Another replica holds the probe.
	require.NoError(t, client.Set(ctx, "callqa:cb:probe:openrouter", "1", time.Minute).Err())
	err = reg.Execute(ctx, "openrouter", succeed)
	require.ErrorIs(t, err, llmerrors.ErrCircuitOpen)
	assert.Equal(t, int64(1), reg.Stats().TotalProbeGuardConflicts)

	mr.Del("callqa:cb:probe:openrouter")
	require.NoError(t, reg.Execute(ctx, "openrouter", succeed))
	assert.False(t, mr.Exists("callqa:cb:probe:openrouter"), "guard released after probe")

	b, err := reg.Get("openrouter")
	require.NoError(t, err)
	assert.Equal(t, circuitbreaker.StateClosed, b.State())
}

func TestDefaultIsFailure(t *testing.T) {
	assert.False(t, circuitbreaker.DefaultIsFailure(nil))
	assert.False(t, circuitbreaker.DefaultIsFailure(context.Canceled))
	assert.False(t, circuitbreaker.DefaultIsFailure(errors.New("plain")))
	assert.True(t, circuitbreaker.DefaultIsFailure(errTransport))
	assert.True(t, circuitbreaker.DefaultIsFailure(context.DeadlineExceeded))
}
