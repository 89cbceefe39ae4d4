// Package configuration holds the typed settings for every outbound call the
// evaluation engine makes: provider endpoints, the template registry, and the
// resilience policy (retry, circuit breaking, concurrency, caching, timeouts).
package configuration

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Validation errors.
var (
	ErrNoPrimaryProvider     = errors.New("primary provider must be configured")
	ErrUnknownProvider       = errors.New("provider referenced but not configured")
	ErrInvalidMaxAttempts    = errors.New("retry max attempts must be at least 1")
	ErrInvalidInterval       = errors.New("retry intervals must be positive and initial <= max")
	ErrInvalidJitter         = errors.New("retry jitter fraction must be within [0,1]")
	ErrInvalidThreshold      = errors.New("circuit breaker failure threshold must be positive")
	ErrInvalidOpenTimeout    = errors.New("circuit breaker open timeout must be positive")
	ErrInvalidConcurrency    = errors.New("max in-flight calls must be positive")
	ErrCacheTTLOutOfRange    = errors.New("cache ttl must be between 30m and 60m")
	ErrInvalidTimeouts       = errors.New("call timeout must be positive and not exceed pipeline timeout")
	ErrRegistryNotConfigured = errors.New("template registry base url required")
)

// Config holds configuration for the structured completion path.
// Includes provider settings, resilience parameters and observability
// options used by the orchestrator and its collaborators.
type Config struct {
	// HTTP client configuration
	HTTPTimeout time.Duration `json:"http_timeout"`
	HTTPClient  *http.Client  `json:"-"`

	// Provider configurations keyed by provider name.
	Providers map[string]ProviderConfig `json:"providers"`

	// Routing selects primary and fallback providers.
	Routing RoutingConfig `json:"routing"`

	// Registry is the prompt template registry.
	Registry RegistryConfig `json:"registry"`

	Retry          RetryConfig          `json:"retry"`
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
	Concurrency    ConcurrencyConfig    `json:"concurrency"`
	Cache          CacheConfig          `json:"cache"`
	Timeouts       TimeoutConfig        `json:"timeouts"`

	Observability ObservabilityConfig `json:"observability"`
	Features      FeatureFlags        `json:"features"`
}

// ProviderConfig holds provider-specific configuration and authentication.
type ProviderConfig struct {
	Endpoint string            `json:"endpoint"`
	APIKey   string            `json:"-"` // Sensitive, not serialized
	Model    string            `json:"model"`
	Timeout  time.Duration     `json:"timeout"`
	Headers  map[string]string `json:"headers"`
}

// RoutingConfig names the provider every call goes to first and the one it
// falls back to once. An empty Secondary disables fallback.
type RoutingConfig struct {
	Primary        string `json:"primary"`
	Secondary      string `json:"secondary"`
	SecondaryModel string `json:"secondary_model"`
}

// RegistryConfig locates the prompt template registry.
type RegistryConfig struct {
	BaseURL string        `json:"base_url"`
	APIKey  string        `json:"-"`
	Label   string        `json:"label"`
	Timeout time.Duration `json:"timeout"`
}

// RetryConfig controls retry behavior for transport failures.
// Delay for attempt n is InitialInterval*Multiplier^(n-1) plus jitter,
// capped at MaxInterval.
type RetryConfig struct {
	MaxAttempts     int           `json:"max_attempts"`     // Total attempts including the first
	InitialInterval time.Duration `json:"initial_interval"` // Starting backoff duration
	MaxInterval     time.Duration `json:"max_interval"`     // Maximum backoff duration
	Multiplier      float64       `json:"multiplier"`       // Exponential backoff multiplier
	UseJitter       bool          `json:"use_jitter"`
	JitterFraction  float64       `json:"jitter_fraction"` // Jitter as a fraction of the computed delay
}

// CircuitBreakerConfig controls per-dependency breakers.
type CircuitBreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	OpenTimeout      time.Duration `json:"open_timeout"`
	MaxBreakers      int           `json:"max_breakers"` // Bound on distinct dependencies tracked
}

// ConcurrencyConfig bounds outbound model calls process-wide.
type ConcurrencyConfig struct {
	MaxInFlightCalls  int     `json:"max_in_flight_calls"`
	RequestsPerSecond float64 `json:"requests_per_second"` // 0 disables pacing
	Burst             int     `json:"burst"`
}

// CacheConfig controls result caching.
type CacheConfig struct {
	Enabled       bool          `json:"enabled"`
	TTL           time.Duration `json:"ttl"`
	KeyPrefix     string        `json:"key_prefix"`
	RedisAddr     string        `json:"redis_addr"` // Empty selects the in-process store
	RedisPassword string        `json:"-"`          // Sensitive field excluded from JSON.
	RedisDB       int           `json:"redis_db"`
}

// TimeoutConfig bounds one model call and one whole evaluation.
type TimeoutConfig struct {
	CallTimeout     time.Duration `json:"call_timeout"`
	PipelineTimeout time.Duration `json:"pipeline_timeout"`
}

// ObservabilityConfig controls logging and metrics.
type ObservabilityConfig struct {
	MetricsEnabled bool   `json:"metrics_enabled"`
	LogLevel       string `json:"log_level"`
	LogFormat      string `json:"log_format"`
	RedactPrompts  bool   `json:"redact_prompts"`
}

// FeatureFlags control optional behaviors.
type FeatureFlags struct {
	DisableJSONRepair bool `json:"disable_json_repair"`
	DisableFallback   bool `json:"disable_fallback"`
}

// Validate checks the invariants the resilience layer depends on.
func (c *Config) Validate() error {
	if c.Routing.Primary == "" {
		return ErrNoPrimaryProvider
	}
	if _, ok := c.Providers[c.Routing.Primary]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, c.Routing.Primary)
	}
	if s := c.Routing.Secondary; s != "" {
		if _, ok := c.Providers[s]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownProvider, s)
		}
	}
	if c.Registry.BaseURL == "" {
		return ErrRegistryNotConfigured
	}

	if c.Retry.MaxAttempts < 1 {
		return ErrInvalidMaxAttempts
	}
	if c.Retry.InitialInterval <= 0 || c.Retry.MaxInterval < c.Retry.InitialInterval {
		return ErrInvalidInterval
	}
	if c.Retry.JitterFraction < 0 || c.Retry.JitterFraction > 1 {
		return ErrInvalidJitter
	}

	if c.CircuitBreaker.FailureThreshold < 1 {
		return ErrInvalidThreshold
	}
	if c.CircuitBreaker.OpenTimeout <= 0 {
		return ErrInvalidOpenTimeout
	}

	if c.Concurrency.MaxInFlightCalls < 1 {
		return ErrInvalidConcurrency
	}

	if c.Cache.Enabled && (c.Cache.TTL < MinCacheTTL || c.Cache.TTL > MaxCacheTTL) {
		return fmt.Errorf("%w: got %s", ErrCacheTTLOutOfRange, c.Cache.TTL)
	}

	if c.Timeouts.CallTimeout <= 0 || c.Timeouts.PipelineTimeout < c.Timeouts.CallTimeout {
		return ErrInvalidTimeouts
	}
	return nil
}

// FallbackEnabled reports whether a secondary provider is usable.
func (c *Config) FallbackEnabled() bool {
	return !c.Features.DisableFallback && c.Routing.Secondary != ""
}
