// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ahrav/go-callqa/internal/llm/configuration"
)

const (
	minInternalKeyLength = 8
	placeholderAPIKey    = "your_secure_internal_api_key_here"

	// DefaultModel is the primary evaluation model on OpenRouter.
	DefaultModel = "openai/gpt-4o-2024-08-06"
)

// Environments.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

var (
	ErrMissingSetting   = errors.New("required setting missing")
	ErrWeakInternalKey  = errors.New("INTERNAL_API_KEY must be at least 8 characters")
	ErrPlaceholderKey   = errors.New("INTERNAL_API_KEY cannot be the default placeholder")
	ErrInvalidPort      = errors.New("PORT must be within 1024..65535")
	ErrInvalidEnv       = errors.New("ENVIRONMENT must be development, staging or production")
	ErrInvalidBatchSize = errors.New("MAX_BATCH_SIZE must be within 1..20")
)

// Config holds application configuration.
type Config struct {
	Port           int
	Env            string
	Version        string
	LogLevel       string
	LogFormat      string
	InternalAPIKey string
	MaxBatchSize   int
	RequestTimeout time.Duration

	DatabaseURL string

	TemporalHostPort  string
	TemporalNamespace string
	TemporalTaskQueue string

	// LLM is the outbound-call policy shared by the structured clients, the
	// template registry and the result cache.
	LLM *configuration.Config
}

// LoadDotEnv loads each .env file into the process environment. Missing
// files are skipped; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() *Config {
	env := strings.ToLower(getEnv("ENVIRONMENT", EnvDevelopment))
	logFormat := "text"
	if env == EnvProduction {
		logFormat = "json"
	}

	cfg := &Config{
		Port:           getEnvAsInt("PORT", 3000),
		Env:            env,
		Version:        getEnv("SERVICE_VERSION", "1.0.0"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", logFormat),
		InternalAPIKey: getEnv("INTERNAL_API_KEY", ""),
		MaxBatchSize:   getEnvAsInt("MAX_BATCH_SIZE", 5),
		RequestTimeout: getEnvAsDuration("REQUEST_TIMEOUT", 200*time.Second),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		TemporalHostPort:  getEnv("TEMPORAL_HOST_PORT", ""),
		TemporalNamespace: getEnv("TEMPORAL_NAMESPACE", "default"),
		TemporalTaskQueue: getEnv("TEMPORAL_TASK_QUEUE", "callqa-evaluations"),
	}
	cfg.LLM = loadLLM(cfg)
	return cfg
}

func loadLLM(app *Config) *configuration.Config {
	llm := configuration.DefaultConfig()

	llm.Providers[configuration.ProviderOpenRouter] = configuration.ProviderConfig{
		Endpoint: getEnv("OPENROUTER_ENDPOINT", configuration.DefaultOpenRouterEndpoint),
		APIKey:   getEnv("OPENROUTER_API_KEY", ""),
		Model:    getEnv("OPENROUTER_MODEL", DefaultModel),
		Timeout:  getEnvAsDuration("LLM_CALL_TIMEOUT", configuration.DefaultCallTimeout),
	}

	if secondary := strings.ToLower(getEnv("SECONDARY_PROVIDER", "")); secondary != "" {
		// A secondary on the primary's provider only swaps the model.
		if secondary != llm.Routing.Primary {
			endpoint := configuration.DefaultOpenAIEndpoint
			if secondary == configuration.ProviderAnthropic {
				endpoint = configuration.DefaultAnthropicEndpoint
			}
			llm.Providers[secondary] = configuration.ProviderConfig{
				Endpoint: getEnv("SECONDARY_ENDPOINT", endpoint),
				APIKey:   getEnv("SECONDARY_API_KEY", ""),
				Model:    getEnv("SECONDARY_MODEL", ""),
				Timeout:  getEnvAsDuration("LLM_CALL_TIMEOUT", configuration.DefaultCallTimeout),
			}
		}
		llm.Routing.Secondary = secondary
		llm.Routing.SecondaryModel = getEnv("SECONDARY_MODEL", "")
	}

	llm.Registry = configuration.RegistryConfig{
		BaseURL: getEnv("PROMPT_REGISTRY_URL", ""),
		APIKey:  getEnv("PROMPT_REGISTRY_API_KEY", ""),
		Label:   getEnv("PROMPT_REGISTRY_LABEL", configuration.DefaultRegistryLabel),
		Timeout: getEnvAsDuration("PROMPT_REGISTRY_TIMEOUT", configuration.DefaultRegistryTimeout),
	}

	llm.Retry.MaxAttempts = getEnvAsInt("MAX_RETRIES", configuration.DefaultMaxAttempts)
	llm.CircuitBreaker.FailureThreshold = getEnvAsInt("BREAKER_FAILURE_THRESHOLD", configuration.DefaultFailureThreshold)
	llm.CircuitBreaker.OpenTimeout = getEnvAsDuration("BREAKER_OPEN_TIMEOUT", configuration.DefaultOpenTimeout)

	llm.Concurrency.MaxInFlightCalls = getEnvAsInt("MAX_IN_FLIGHT_CALLS", configuration.DefaultMaxInFlightCalls)
	llm.Concurrency.RequestsPerSecond = getEnvAsFloat("REQUESTS_PER_SECOND", 0)
	llm.Concurrency.Burst = getEnvAsInt("REQUESTS_BURST", 1)

	llm.Cache.Enabled = getEnvAsBool("CACHE_ENABLED", true)
	llm.Cache.TTL = getEnvAsDuration("CACHE_TTL", configuration.DefaultCacheTTL)
	llm.Cache.RedisAddr = getEnv("REDIS_ADDR", "")
	llm.Cache.RedisPassword = getEnv("REDIS_PASSWORD", "")
	llm.Cache.RedisDB = getEnvAsInt("REDIS_DB", 0)

	llm.Timeouts.CallTimeout = getEnvAsDuration("LLM_CALL_TIMEOUT", configuration.DefaultCallTimeout)
	llm.Timeouts.PipelineTimeout = getEnvAsDuration("PIPELINE_TIMEOUT", configuration.DefaultPipelineTimeout)

	llm.Observability.MetricsEnabled = getEnvAsBool("ENABLE_METRICS", true)
	llm.Observability.LogLevel = app.LogLevel
	llm.Observability.LogFormat = app.LogFormat
	llm.Observability.RedactPrompts = getEnvAsBool("REDACT_PROMPTS", true)

	llm.Features.DisableJSONRepair = getEnvAsBool("DISABLE_JSON_REPAIR", false)
	llm.Features.DisableFallback = getEnvAsBool("DISABLE_FALLBACK", false)
	return llm
}

// Validate checks the settings the server cannot start without. The LLM
// section is validated by its own rules.
func (c *Config) Validate() error {
	switch c.Env {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidEnv, c.Env)
	}
	if c.Port < 1024 || c.Port > 65535 {
		return fmt.Errorf("%w: got %d", ErrInvalidPort, c.Port)
	}
	if err := c.validateKeys(); err != nil {
		return err
	}
	if c.MaxBatchSize < 1 || c.MaxBatchSize > 20 {
		return fmt.Errorf("%w: got %d", ErrInvalidBatchSize, c.MaxBatchSize)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm config: %w", err)
	}
	if c.RequestTimeout > 0 && c.RequestTimeout <= c.LLM.Timeouts.PipelineTimeout {
		slog.Warn("request timeout does not exceed pipeline timeout; slow evaluations will be cut off by the HTTP layer",
			"request_timeout", c.RequestTimeout,
			"pipeline_timeout", c.LLM.Timeouts.PipelineTimeout)
	}
	return nil
}

func (c *Config) validateKeys() error {
	key := strings.TrimSpace(c.InternalAPIKey)
	switch {
	case key == "":
		return fmt.Errorf("%w: INTERNAL_API_KEY", ErrMissingSetting)
	case len(key) < minInternalKeyLength:
		return ErrWeakInternalKey
	case key == placeholderAPIKey:
		return ErrPlaceholderKey
	}

	primary := c.LLM.Routing.Primary
	if strings.TrimSpace(c.LLM.Providers[primary].APIKey) == "" {
		return fmt.Errorf("%w: OPENROUTER_API_KEY", ErrMissingSetting)
	}
	if strings.TrimSpace(c.LLM.Registry.APIKey) == "" {
		return fmt.Errorf("%w: PROMPT_REGISTRY_API_KEY", ErrMissingSetting)
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string { return ":" + strconv.Itoa(c.Port) }

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool { return c.Env == EnvProduction }

// TemporalEnabled reports whether asynchronous evaluation is configured.
func (c *Config) TemporalEnabled() bool { return c.TemporalHostPort != "" }

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("45s") or bare seconds ("45").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
