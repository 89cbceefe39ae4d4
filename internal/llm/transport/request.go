// Package transport defines the provider-neutral request and response types
// for structured model calls and the middleware pipeline that carries them
// to a provider adapter.
package transport

import (
	"maps"
	"net/http"
	"time"
)

// Request is one schema-constrained completion request, already rendered.
// Provider adapters translate it into their wire format.
type Request struct {
	// Shape names the closed result record the response must decode into.
	Shape string `json:"shape"`

	// Template is the registry template the prompts were rendered from.
	Template string `json:"template"`

	// Provider identifies which model service to use.
	Provider string `json:"provider"`

	// Model specifies the exact model version to use.
	Model string `json:"model"`

	SystemPrompt string  `json:"system_prompt"`
	UserPrompt   string  `json:"user_prompt"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int64   `json:"max_tokens,omitempty"`

	// JSONMode asks the provider to constrain output to a JSON object.
	JSONMode bool `json:"json_mode"`

	// Control fields for resilience and observability.
	Timeout       time.Duration     `json:"timeout"`
	CorrelationID string            `json:"correlation_id"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Clone returns a copy safe to mutate per attempt or per provider.
func (r *Request) Clone() *Request {
	out := *r
	out.Metadata = maps.Clone(r.Metadata)
	return &out
}

// Response is the normalized provider output.
type Response struct {
	// Content is the raw model text, expected to hold one JSON object.
	Content string `json:"content"`

	FinishReason string `json:"finish_reason"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`

	// ProviderRequestIDs enables cross-system correlation.
	ProviderRequestIDs []string `json:"provider_request_ids"`

	Usage NormalizedUsage `json:"usage"`

	// Headers preserves raw response headers for debugging.
	Headers http.Header `json:"-"`

	// RawBody preserves the original response for audit.
	RawBody []byte `json:"-"`
}

// NormalizedUsage provides consistent usage metrics across all providers.
type NormalizedUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
	LatencyMs        int64 `json:"latency_ms"`
}
