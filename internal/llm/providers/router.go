// Package providers adapts the provider-neutral transport request to the
// chat completion APIs the service can call: OpenAI-compatible endpoints
// (OpenRouter, OpenAI) and Anthropic's messages API.
package providers

import (
	"errors"
	"fmt"

	"github.com/ahrav/go-callqa/internal/llm/configuration"
	"github.com/ahrav/go-callqa/internal/llm/transport"
)

// ErrUnknownProvider is returned for provider names without an adapter.
var ErrUnknownProvider = errors.New("unknown provider")

// Defaults applied when a template does not pin them.
const (
	DefaultMaxTokens   = 2000
	DefaultTemperature = 0.3
)

// NewRouter creates a router with configured provider adapters.
func NewRouter(configs map[string]configuration.ProviderConfig) (transport.Router, error) {
	adapters := make(map[string]transport.ProviderAdapter, len(configs))

	for name, cfg := range configs {
		switch name {
		case configuration.ProviderOpenRouter:
			adapters[name] = NewOpenRouterAdapter(cfg)
		case configuration.ProviderOpenAI:
			adapters[name] = NewOpenAIAdapter(name, cfg)
		case configuration.ProviderAnthropic:
			adapters[name] = NewAnthropicAdapter(cfg)
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
		}
	}

	return &router{adapters: adapters}, nil
}

// router implements transport.Router with a provider adapter registry.
type router struct {
	adapters map[string]transport.ProviderAdapter
}

// Pick selects the adapter for the given provider name.
func (r *router) Pick(provider string) (transport.ProviderAdapter, error) {
	adapter, ok := r.adapters[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	return adapter, nil
}
