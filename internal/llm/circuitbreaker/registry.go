package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ahrav/go-callqa/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-callqa/internal/llm/errors"
	"github.com/ahrav/go-callqa/internal/llm/transport"
)

// ErrTooManyBreakers is returned once MaxBreakers dependencies are tracked.
var ErrTooManyBreakers = errors.New("circuit breaker limit reached")

const defaultProbeGuardTTL = 60 * time.Second

// Registry owns one breaker per dependency name. Breakers are created on
// first use and live for the process.
type Registry struct {
	cfg         Config
	maxBreakers int
	logger      *slog.Logger

	mu       sync.RWMutex
	breakers map[string]*Breaker

	// Optional cross-instance guard so only one replica probes a recovering
	// dependency.
	probeGuard    redis.Cmdable
	probeGuardTTL time.Duration
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithProbeGuard coordinates half-open probes across processes through Redis.
func WithProbeGuard(client redis.Cmdable, ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		r.probeGuard = client
		if ttl > 0 {
			r.probeGuardTTL = ttl
		}
	}
}

// WithClock overrides the clock of every breaker the registry creates.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.cfg.Now = now }
}

// WithStateListener observes transitions, typically to export a gauge.
func WithStateListener(fn func(dependency string, from, to CircuitState)) RegistryOption {
	return func(r *Registry) { r.cfg.OnStateChange = fn }
}

// NewRegistry creates a registry from the service configuration.
func NewRegistry(cfg configuration.CircuitBreakerConfig, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		cfg: Config{
			FailureThreshold: cfg.FailureThreshold,
			OpenTimeout:      cfg.OpenTimeout,
		},
		maxBreakers:   cfg.MaxBreakers,
		logger:        slog.Default().With("component", "circuit_breaker"),
		breakers:      make(map[string]*Breaker),
		probeGuardTTL: defaultProbeGuardTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	if _, err := New("validate", r.cfg); err != nil {
		return nil, err
	}
	return r, nil
}

// Get returns the breaker for dependency, creating it if needed.
func (r *Registry) Get(dependency string) (*Breaker, error) {
	r.mu.RLock()
	b, ok := r.breakers[dependency]
	r.mu.RUnlock()
	if ok {
		return b, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[dependency]; ok {
		return b, nil
	}
	if r.maxBreakers > 0 && len(r.breakers) >= r.maxBreakers {
		return nil, fmt.Errorf("%w: %d", ErrTooManyBreakers, r.maxBreakers)
	}
	b, err := New(dependency, r.cfg)
	if err != nil {
		return nil, err
	}
	r.breakers[dependency] = b
	return b, nil
}

// Execute runs fn through the breaker for dependency.
func (r *Registry) Execute(ctx context.Context, dependency string, fn func(context.Context) error) error {
	b, err := r.Get(dependency)
	if err != nil {
		return err
	}

	probe, err := b.allow()
	if err != nil {
		return err
	}

	if probe && r.probeGuard != nil {
		if !r.acquireProbeGuard(ctx, dependency) {
			b.metrics.probeGuardConflicts.Add(1)
			// Give the slot back without counting an outcome.
			b.record(context.Canceled, true)
			return &llmerrors.CircuitBreakerError{
				Dependency: dependency,
				State:      StateHalfOpen.String(),
				ResetAt:    time.Now().Add(r.probeGuardTTL).Unix(),
			}
		}
		defer r.releaseProbeGuard(ctx, dependency)
	}

	callErr := fn(ctx)
	b.record(outcome(ctx, callErr), probe)
	return callErr
}

// Middleware applies the provider's breaker to each request. It belongs
// inside the retry middleware so every attempt is judged individually and an
// open circuit stops the remaining attempts.
func (r *Registry) Middleware() transport.Middleware {
	return r.middleware(func(req *transport.Request) string { return req.Provider })
}

// MiddlewareFor judges every request against the breaker named dependency,
// whatever provider the request targets. A fallback that reuses the primary
// provider with another model uses it to keep its own circuit.
func (r *Registry) MiddlewareFor(dependency string) transport.Middleware {
	return r.middleware(func(*transport.Request) string { return dependency })
}

func (r *Registry) middleware(dependencyOf func(*transport.Request) string) transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			var resp *transport.Response
			err := r.Execute(ctx, dependencyOf(req), func(ctx context.Context) error {
				var err error
				resp, err = next.Handle(ctx, req)
				return err
			})
			if err != nil {
				return nil, err
			}
			return resp, nil
		})
	}
}

// Snapshots lists the state of every breaker.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Snapshot())
	}
	return out
}

func probeGuardKey(dependency string) string {
	return "callqa:cb:probe:" + dependency
}

func (r *Registry) acquireProbeGuard(ctx context.Context, dependency string) bool {
	ok, err := r.probeGuard.SetNX(ctx, probeGuardKey(dependency), "1", r.probeGuardTTL).Result()
	if err != nil {
		// Redis trouble must not wedge recovery; probe locally.
		r.logger.Warn("probe guard unavailable", "dependency", dependency, "error", err)
		return true
	}
	return ok
}

func (r *Registry) releaseProbeGuard(ctx context.Context, dependency string) {
	if err := r.probeGuard.Del(context.WithoutCancel(ctx), probeGuardKey(dependency)).Err(); err != nil {
		r.logger.Warn("failed to release probe guard", "dependency", dependency, "error", err)
	}
}
