package templates

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-callqa/internal/llm/circuitbreaker"
	"github.com/ahrav/go-callqa/internal/llm/retry"
)

// BreakerDependency names the registry's circuit breaker.
const BreakerDependency = "template_registry"

// Registry holds the resolved templates. Get is safe for concurrent use and
// lock-free once Initialize has published the table.
type Registry struct {
	fetcher  Fetcher
	names    []string
	breakers *circuitbreaker.Registry
	retrier  *retry.Retrier
	logger   *slog.Logger

	table atomic.Pointer[map[string]*Template]
}

// Option configures a Registry.
type Option func(*Registry)

// WithBreakers routes every fetch through the template registry breaker.
func WithBreakers(b *circuitbreaker.Registry) Option {
	return func(r *Registry) { r.breakers = b }
}

// WithRetrier retries fetches that fail with transport failures.
func WithRetrier(rt *retry.Retrier) Option {
	return func(r *Registry) { r.retrier = rt }
}

// WithNames overrides the set of templates Initialize must resolve.
func WithNames(names ...string) Option {
	return func(r *Registry) { r.names = names }
}

// NewRegistry creates an empty registry over fetcher.
func NewRegistry(fetcher Fetcher, opts ...Option) *Registry {
	r := &Registry{
		fetcher: fetcher,
		names:   RequiredNames,
		logger:  slog.Default().With("component", "templates"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Initialize fetches every required template concurrently. Any failure
// leaves the registry empty and is returned; the caller treats it as fatal.
func (r *Registry) Initialize(ctx context.Context) error {
	fetched := make([]*Template, len(r.names))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range r.names {
		g.Go(func() error {
			t, err := r.fetchOne(gctx, name)
			if err != nil {
				return fmt.Errorf("fetching template %s: %w", name, err)
			}
			fetched[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.logger.Error("template registry initialization failed", "error", err)
		return err
	}

	table := make(map[string]*Template, len(fetched))
	for _, t := range fetched {
		table[t.Name] = t
	}
	r.table.Store(&table)

	r.logger.Info("template registry initialized", "templates", len(table))
	return nil
}

func (r *Registry) fetchOne(ctx context.Context, name string) (*Template, error) {
	var t *Template
	attempt := func(ctx context.Context) error {
		var err error
		t, err = r.fetcher.Fetch(ctx, name)
		return err
	}
	if r.breakers != nil {
		inner := attempt
		attempt = func(ctx context.Context) error {
			return r.breakers.Execute(ctx, BreakerDependency, inner)
		}
	}

	var err error
	if r.retrier != nil {
		err = r.retrier.Do(ctx, func(ctx context.Context, _ int) error { return attempt(ctx) })
	} else {
		err = attempt(ctx)
	}
	if err != nil {
		return nil, err
	}
	if t.Name != name {
		return nil, fmt.Errorf("%w: asked for %s, got %s", ErrInvalidTemplate, name, t.Name)
	}
	return t, nil
}

// Initialized reports whether Initialize has succeeded.
func (r *Registry) Initialized() bool {
	return r.table.Load() != nil
}

// Get returns the template named name.
func (r *Registry) Get(name string) (*Template, error) {
	table := r.table.Load()
	if table == nil {
		return nil, ErrNotInitialized
	}
	t, ok := (*table)[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	return t, nil
}

// Names returns the resolved template names.
func (r *Registry) Names() []string {
	table := r.table.Load()
	if table == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(*table))
}
