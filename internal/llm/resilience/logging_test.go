package resilience_test

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-callqa/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-callqa/internal/llm/errors"
	"github.com/ahrav/go-callqa/internal/llm/resilience"
	"github.com/ahrav/go-callqa/internal/llm/transport"
)

type recordingMetrics struct {
	mu       sync.Mutex
	outcomes []string
	prompt   int64
}

func (m *recordingMetrics) ObserveModelCall(_, _ string, _ time.Duration, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *recordingMetrics) ObserveTokens(_, _ string, prompt, _ int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompt += prompt
}

func TestLoggingMiddleware_RecordsOutcomes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	metrics := &recordingMetrics{}

	mw := resilience.NewLoggingMiddleware(configuration.ObservabilityConfig{RedactPrompts: true}, logger, metrics)

	ok := mw(transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		return &transport.Response{Content: `{"ok":true}`, Usage: transport.NormalizedUsage{PromptTokens: 12}}, nil
	}))
	failing := mw(transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		return nil, &llmerrors.ProviderError{Provider: "openrouter", StatusCode: 503, Type: llmerrors.ErrorTypeProvider}
	}))

	req := &transport.Request{Provider: "openrouter", Shape: "Compliance", UserPrompt: "secret transcript"}
	_, err := ok.Handle(context.Background(), req)
	require.NoError(t, err)
	_, err = failing.Handle(context.Background(), req)
	require.Error(t, err)

	assert.Equal(t, []string{"", string(llmerrors.KindTransport)}, metrics.outcomes)
	assert.Equal(t, int64(12), metrics.prompt)
	assert.NotContains(t, buf.String(), "secret transcript")
	assert.Contains(t, buf.String(), `"user_prompt_length":17`)
	assert.Contains(t, buf.String(), `"error_type":"provider_unavailable"`)
}

func TestLoggingMiddleware_NilDependencies(t *testing.T) {
	mw := resilience.NewLoggingMiddleware(configuration.ObservabilityConfig{}, nil, nil)
	h := mw(transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		return &transport.Response{Content: "x"}, nil
	}))
	_, err := h.Handle(context.Background(), &transport.Request{})
	assert.NoError(t, err)
}
