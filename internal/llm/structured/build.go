package structured

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ahrav/go-callqa/internal/llm/circuitbreaker"
	"github.com/ahrav/go-callqa/internal/llm/configuration"
	"github.com/ahrav/go-callqa/internal/llm/providers"
	"github.com/ahrav/go-callqa/internal/llm/ratelimit"
	"github.com/ahrav/go-callqa/internal/llm/resilience"
	"github.com/ahrav/go-callqa/internal/llm/retry"
	"github.com/ahrav/go-callqa/internal/llm/transport"
)

// Stack holds the process-wide resilience components shared by every
// structured client. Nil members are skipped when the chain is built.
type Stack struct {
	Breakers *circuitbreaker.Registry
	Limiter  *ratelimit.Limiter
	Retrier  *retry.Retrier
	Metrics  resilience.Metrics
}

// NewFromConfig builds the primary and optional secondary clients and wraps
// them in a Resilient.
//
// The primary chain is retry, breaker, limiter, logging, HTTP: each network
// attempt passes the breaker and holds an in-flight slot only while on the
// wire. The secondary chain drops retry because a fallback is one call.
func NewFromConfig(cfg *configuration.Config, stack Stack) (*Resilient, error) {
	if cfg == nil {
		cfg = configuration.DefaultConfig()
	}

	router, err := providers.NewRouter(cfg.Providers)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize router: %w", err)
	}

	core := transport.NewHTTPHandler(httpClient(cfg), router)
	logging := resilience.NewLoggingMiddleware(cfg.Observability, nil, stack.Metrics)

	attemptChain := func(breaker transport.Middleware) []transport.Middleware {
		var chain []transport.Middleware
		if breaker != nil {
			chain = append(chain, breaker)
		}
		if stack.Limiter != nil {
			chain = append(chain, stack.Limiter.Middleware())
		}
		return append(chain, logging)
	}

	var primaryBreaker transport.Middleware
	if stack.Breakers != nil {
		primaryBreaker = stack.Breakers.Middleware()
	}
	primaryChain := attemptChain(primaryBreaker)
	if stack.Retrier != nil {
		primaryChain = append([]transport.Middleware{stack.Retrier.Middleware()}, primaryChain...)
	}

	clientOpts := []Option{
		WithCallTimeout(cfg.Timeouts.CallTimeout),
		WithJSONRepair(!cfg.Features.DisableJSONRepair),
	}

	primaryName := cfg.Routing.Primary
	primary := NewClient(
		transport.Chain(core, primaryChain...),
		primaryName,
		append(clientOpts, WithModel(cfg.Providers[primaryName].Model))...,
	)

	if !cfg.FallbackEnabled() {
		return NewResilient(primary, nil), nil
	}

	secondaryName := cfg.Routing.Secondary
	model := cfg.Routing.SecondaryModel
	if model == "" {
		model = cfg.Providers[secondaryName].Model
	}
	var secondaryBreaker transport.Middleware
	if stack.Breakers != nil {
		secondaryBreaker = stack.Breakers.MiddlewareFor(SecondaryDependency(primaryName, secondaryName, model))
	}
	secondary := NewClient(
		transport.Chain(core, attemptChain(secondaryBreaker)...),
		secondaryName,
		append(clientOpts, WithModelOverride(model))...,
	)
	return NewResilient(primary, secondary), nil
}

func httpClient(cfg *configuration.Config) *http.Client {
	if cfg.HTTPClient != nil {
		return cfg.HTTPClient
	}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          configuration.DefaultMaxIdleConns,
			IdleConnTimeout:       configuration.DefaultIdleTimeoutSeconds * time.Second,
			TLSHandshakeTimeout:   configuration.DefaultTLSTimeoutSeconds * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		Timeout: cfg.HTTPTimeout,
	}
}

// SecondaryDependency names the breaker guarding fallback calls. A fallback
// to another model on the primary provider gets a breaker of its own, so an
// open primary circuit does not also block the fallback.
func SecondaryDependency(primary, secondary, model string) string {
	if secondary == primary && model != "" {
		return secondary + "/" + model
	}
	return secondary
}
