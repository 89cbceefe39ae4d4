// Package resilience provides the observability middleware placed around
// every outbound model call. It logs the request lifecycle with prompt
// redaction and reports latency, token usage and classified failures to a
// pluggable metrics sink.
package resilience

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ahrav/go-callqa/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-callqa/internal/llm/errors"
	"github.com/ahrav/go-callqa/internal/llm/transport"
)

// ContentTruncationLimit caps the response preview written to logs when
// prompts are not redacted.
const ContentTruncationLimit = 200

// Metrics receives one observation per network attempt. Outcome is empty on
// success and the classified failure kind otherwise.
type Metrics interface {
	ObserveModelCall(provider, shape string, elapsed time.Duration, outcome string)
	ObserveTokens(provider, shape string, prompt, completion int64)
}

// NoOpMetrics discards observations.
type NoOpMetrics struct{}

func (NoOpMetrics) ObserveModelCall(string, string, time.Duration, string) {}

func (NoOpMetrics) ObserveTokens(string, string, int64, int64) {}

// LoggingMiddleware logs and measures each model call attempt.
type LoggingMiddleware struct {
	logger        *slog.Logger
	metrics       Metrics
	redactPrompts bool
}

// NewLoggingMiddleware returns the middleware for cfg. A nil logger or
// metrics sink falls back to the default logger and NoOpMetrics.
func NewLoggingMiddleware(cfg configuration.ObservabilityConfig, logger *slog.Logger, metrics Metrics) transport.Middleware {
	if logger == nil {
		logger = slog.Default().With("component", "model_calls")
	}
	if metrics == nil {
		metrics = NoOpMetrics{}
	}
	lm := &LoggingMiddleware{
		logger:        logger,
		metrics:       metrics,
		redactPrompts: cfg.RedactPrompts,
	}
	return lm.Middleware
}

// Middleware wraps next with request/response logging and metrics.
func (m *LoggingMiddleware) Middleware(next transport.Handler) transport.Handler {
	return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		m.logRequest(ctx, req)

		start := time.Now()
		resp, err := next.Handle(ctx, req)
		elapsed := time.Since(start)

		if err != nil {
			m.handleError(ctx, req, err, elapsed)
			return resp, err
		}
		m.handleSuccess(ctx, req, resp, elapsed)
		return resp, nil
	})
}

func (m *LoggingMiddleware) logRequest(ctx context.Context, req *transport.Request) {
	fields := []any{
		"correlation_id", req.CorrelationID,
		"provider", req.Provider,
		"model", req.Model,
		"shape", req.Shape,
		"template", req.Template,
		"max_tokens", req.MaxTokens,
		"temperature", req.Temperature,
		"timeout_seconds", req.Timeout.Seconds(),
	}
	if m.redactPrompts {
		fields = append(fields,
			"system_prompt_length", len(req.SystemPrompt),
			"user_prompt_length", len(req.UserPrompt))
	} else {
		fields = append(fields, "system_prompt", req.SystemPrompt, "user_prompt", req.UserPrompt)
	}
	m.logger.DebugContext(ctx, "model call started", fields...)
}

func (m *LoggingMiddleware) handleError(ctx context.Context, req *transport.Request, err error, elapsed time.Duration) {
	kind := llmerrors.KindOf(err)
	errorType := "unknown"
	if wfErr := llmerrors.ClassifyLLMError(err); wfErr != nil {
		errorType = string(wfErr.Type)
	}

	m.metrics.ObserveModelCall(req.Provider, req.Shape, elapsed, string(kind))

	level := slog.LevelWarn
	if kind == llmerrors.KindCanceled {
		level = slog.LevelDebug
	}
	m.logger.Log(ctx, level, "model call failed",
		"correlation_id", req.CorrelationID,
		"provider", req.Provider,
		"model", req.Model,
		"shape", req.Shape,
		"duration_ms", elapsed.Milliseconds(),
		"failure_kind", kind,
		"error_type", errorType,
		"error", err.Error())
}

func (m *LoggingMiddleware) handleSuccess(ctx context.Context, req *transport.Request, resp *transport.Response, elapsed time.Duration) {
	m.metrics.ObserveModelCall(req.Provider, req.Shape, elapsed, "")
	m.metrics.ObserveTokens(req.Provider, req.Shape, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	fields := []any{
		"correlation_id", req.CorrelationID,
		"provider", req.Provider,
		"model", resp.Model,
		"shape", req.Shape,
		"duration_ms", elapsed.Milliseconds(),
		"finish_reason", resp.FinishReason,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"provider_request_ids", strings.Join(resp.ProviderRequestIDs, ","),
	}
	if m.redactPrompts {
		fields = append(fields, "response_length", len(resp.Content))
	} else {
		content := resp.Content
		if len(content) > ContentTruncationLimit {
			content = content[:ContentTruncationLimit] + "..."
		}
		fields = append(fields, "response_preview", content)
	}
	m.logger.InfoContext(ctx, "model call completed", fields...)
}
