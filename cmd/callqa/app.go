package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/ahrav/go-callqa/internal/config"
	"github.com/ahrav/go-callqa/internal/llm/cache"
	"github.com/ahrav/go-callqa/internal/llm/circuitbreaker"
	"github.com/ahrav/go-callqa/internal/llm/configuration"
	"github.com/ahrav/go-callqa/internal/llm/ratelimit"
	"github.com/ahrav/go-callqa/internal/llm/retry"
	"github.com/ahrav/go-callqa/internal/llm/structured"
	"github.com/ahrav/go-callqa/internal/observability/metrics"
	"github.com/ahrav/go-callqa/internal/orchestrator"
	"github.com/ahrav/go-callqa/internal/store"
	"github.com/ahrav/go-callqa/internal/templates"
)

const probeGuardSlack = 5 * time.Second

// app holds the process-wide components shared by serve, worker and
// evaluate.
type app struct {
	cfg          *config.Config
	promRegistry *prometheus.Registry
	metrics      *metrics.Metrics
	templates    *templates.Registry
	orchestrator *orchestrator.Orchestrator
	store        *store.Postgres // nil without DATABASE_URL
	recorder     *store.Recorder

	pool  *pgxpool.Pool
	redis *redis.Client
}

type appOptions struct {
	// templatesDir loads templates from local JSON files instead of the
	// registry.
	templatesDir string
	// withStore connects to the database when DATABASE_URL is set.
	withStore bool
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, promRegistry: prometheus.NewRegistry()}
	if cfg.LLM.Observability.MetricsEnabled {
		a.promRegistry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.metrics = metrics.NewMetrics(a.promRegistry)
	}

	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	cacheStore, redisClient := cache.OpenStore(ctx, cfg.LLM.Cache)
	a.redis = redisClient

	var breakerOpts []circuitbreaker.RegistryOption
	if redisClient != nil {
		breakerOpts = append(breakerOpts, circuitbreaker.WithProbeGuard(redisClient, probeGuardTTL(cfg.LLM)))
	}
	breakers, err := circuitbreaker.NewRegistry(cfg.LLM.CircuitBreaker, breakerOpts...)
	if err != nil {
		return nil, fmt.Errorf("circuit breakers: %w", err)
	}
	limiter, err := ratelimit.New(cfg.LLM.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("limiter: %w", err)
	}
	retrier, err := retry.New(cfg.LLM.Retry)
	if err != nil {
		return nil, fmt.Errorf("retry: %w", err)
	}

	stack := structured.Stack{Breakers: breakers, Limiter: limiter, Retrier: retrier}
	if a.metrics != nil {
		stack.Metrics = a.metrics
	}
	completer, err := structured.NewFromConfig(cfg.LLM, stack)
	if err != nil {
		return nil, fmt.Errorf("structured client: %w", err)
	}

	var fetcher templates.Fetcher = templates.NewHTTPFetcher(cfg.LLM.Registry, nil)
	if opts.templatesDir != "" {
		fetcher = templates.FSFetcher{FS: os.DirFS(opts.templatesDir)}
	}
	a.templates = templates.NewRegistry(fetcher,
		templates.WithBreakers(breakers),
		templates.WithRetrier(retrier))
	if err := a.templates.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("template registry: %w", err)
	}

	resultCache, err := cache.New(cfg.LLM.Cache, cacheStore)
	if err != nil {
		return nil, fmt.Errorf("result cache: %w", err)
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithCache(resultCache),
		orchestrator.WithPipelineTimeout(cfg.LLM.Timeouts.PipelineTimeout),
	}
	if a.metrics != nil {
		orchOpts = append(orchOpts, orchestrator.WithObserver(a.metrics))
		if err := errors.Join(
			metrics.RegisterBreakers(a.promRegistry, breakers),
			metrics.RegisterLimiter(a.promRegistry, limiter),
			metrics.RegisterCache(a.promRegistry, resultCache),
			metrics.RegisterRetrier(a.promRegistry, retrier),
			metrics.RegisterFallbacks(a.promRegistry, completer),
		); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	a.orchestrator = orchestrator.New(a.templates, completer, orchOpts...)

	var sink store.Sink
	if opts.withStore && cfg.DatabaseURL != "" {
		pool, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		a.store = store.NewPostgres(pool)
		sink = a.store
	} else if opts.withStore {
		slog.Warn("DATABASE_URL not set, evaluations will not be persisted")
	}
	var recOpts []store.RecorderOption
	if a.metrics != nil {
		recOpts = append(recOpts, store.WithObserver(a.metrics))
	}
	a.recorder = store.NewRecorder(sink, recOpts...)

	ok = true
	return a, nil
}

// probeGuardTTL outlives the longest probe a replica can run, so the guard
// never lapses while the probe is still on the wire.
func probeGuardTTL(cfg *configuration.Config) time.Duration {
	return max(cfg.CircuitBreaker.OpenTimeout, cfg.Timeouts.CallTimeout) + probeGuardSlack
}

// close waits for background writes and releases connections.
func (a *app) close() {
	if a.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.recorder.Close(ctx); err != nil {
			slog.Warn("recorder did not drain", "error", err)
		}
		cancel()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
