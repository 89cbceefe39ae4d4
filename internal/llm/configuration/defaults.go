package configuration

import (
	"time"
)

// HTTP and connection constants.
const (
	DefaultMaxIdleConns        = 100
	DefaultIdleTimeoutSeconds  = 90
	DefaultTLSTimeoutSeconds   = 10
	DefaultHTTPTimeoutSeconds  = 60
	ServerErrorStatusThreshold = 500
)

// Provider names.
const (
	ProviderOpenRouter = "openrouter"
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"

	DefaultOpenRouterEndpoint = "https://openrouter.ai/api/v1"
	DefaultOpenAIEndpoint     = "https://api.openai.com/v1"
	DefaultAnthropicEndpoint  = "https://api.anthropic.com/v1"
	DefaultRegistryLabel      = "prod"
	DefaultRegistryTimeout    = 30 * time.Second
)

// Retry and circuit breaker constants.
const (
	DefaultMaxAttempts       = 3
	DefaultInitialInterval   = 1 * time.Second
	DefaultMaxInterval       = 10 * time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultJitterFraction    = 0.2
	DefaultFailureThreshold  = 5
	DefaultOpenTimeout       = 30 * time.Second
	DefaultMaxBreakers       = 64
)

// Concurrency and timeout constants.
const (
	DefaultMaxInFlightCalls = 3
	DefaultCallTimeout      = 45 * time.Second
	DefaultPipelineTimeout  = 180 * time.Second
)

// Cache constants.
const (
	DefaultCacheTTL       = 45 * time.Minute
	MinCacheTTL           = 30 * time.Minute
	MaxCacheTTL           = 60 * time.Minute
	DefaultCacheKeyPrefix = "callqa:result"
)

// DefaultConfig returns configuration with the production policy: three
// attempts with 1s..10s backoff, breakers opening after five consecutive
// failures for 30s, three in-flight calls, 45s per call and 180s per
// evaluation. Provider credentials and the registry URL are left to the caller.
func DefaultConfig() *Config {
	return &Config{
		HTTPTimeout: DefaultHTTPTimeoutSeconds * time.Second,
		Providers: map[string]ProviderConfig{
			ProviderOpenRouter: {
				Endpoint: DefaultOpenRouterEndpoint,
				Timeout:  DefaultCallTimeout,
			},
		},
		Routing: RoutingConfig{
			Primary: ProviderOpenRouter,
		},
		Registry: RegistryConfig{
			Label:   DefaultRegistryLabel,
			Timeout: DefaultRegistryTimeout,
		},
		Retry: RetryConfig{
			MaxAttempts:     DefaultMaxAttempts,
			InitialInterval: DefaultInitialInterval,
			MaxInterval:     DefaultMaxInterval,
			Multiplier:      DefaultBackoffMultiplier,
			UseJitter:       true,
			JitterFraction:  DefaultJitterFraction,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: DefaultFailureThreshold,
			OpenTimeout:      DefaultOpenTimeout,
			MaxBreakers:      DefaultMaxBreakers,
		},
		Concurrency: ConcurrencyConfig{
			MaxInFlightCalls: DefaultMaxInFlightCalls,
		},
		Cache: CacheConfig{
			Enabled:   true,
			TTL:       DefaultCacheTTL,
			KeyPrefix: DefaultCacheKeyPrefix,
		},
		Timeouts: TimeoutConfig{
			CallTimeout:     DefaultCallTimeout,
			PipelineTimeout: DefaultPipelineTimeout,
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: true,
			LogLevel:       "info",
			LogFormat:      "json",
			RedactPrompts:  true,
		},
	}
}
