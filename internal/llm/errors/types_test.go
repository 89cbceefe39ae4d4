package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type timeoutNetErr struct{}

func (timeoutNetErr) Error() string   { return "i/o timeout" }
func (timeoutNetErr) Timeout() bool   { return true }
func (timeoutNetErr) Temporary() bool { return true }

var _ net.Error = timeoutNetErr{}

func TestProviderError(t *testing.T) {
	err := &ProviderError{
		Provider:   "openrouter",
		StatusCode: 429,
		Message:    "slow down",
		Type:       ErrorTypeRateLimit,
		RetryAfter: 7,
	}

	assert.Equal(t, "openrouter error (status 429): slow down", err.Error())
	assert.True(t, err.IsRetryable())
	assert.Equal(t, 7*time.Second, err.GetRetryAfter())

	err.RetryAfter = 0
	assert.Zero(t, err.GetRetryAfter())
}

func TestProviderErrorRetryability(t *testing.T) {
	tests := []struct {
		errType   ErrorType
		retryable bool
	}{
		{ErrorTypeTimeout, true},
		{ErrorTypeRateLimit, true},
		{ErrorTypeNetwork, true},
		{ErrorTypeProvider, true},
		{ErrorTypeAuth, false},
		{ErrorTypePermission, false},
		{ErrorTypeQuota, false},
		{ErrorTypeValidation, false},
		{ErrorTypeSchema, false},
		{ErrorTypeUnknown, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.errType), func(t *testing.T) {
			err := &ProviderError{Provider: "p", Type: tt.errType}
			assert.Equal(t, tt.retryable, err.IsRetryable())
			assert.Equal(t, tt.retryable, IsRetryableError(fmt.Errorf("wrapped: %w", err)))
		})
	}
}

func TestCircuitBreakerErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("call: %w", &CircuitBreakerError{Dependency: "openrouter", State: "open"})

	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.False(t, IsRetryableError(err))
	assert.Equal(t, KindCircuitOpen, KindOf(err))
	assert.Contains(t, err.Error(), "circuit breaker open for openrouter")
}

func TestSchemaViolationError(t *testing.T) {
	cause := errors.New("unexpected end of JSON input")
	err := &SchemaViolationError{Shape: "Compliance", Provider: "openrouter", Reason: "decode", Cause: cause}

	assert.ErrorIs(t, err, ErrSchemaViolation)
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsRetryableError(err))
	assert.Equal(t, KindSchema, KindOf(err))
	assert.Equal(t, "schema violation for Compliance from openrouter: decode", err.Error())

	noProvider := &SchemaViolationError{Shape: "DeepDive", Reason: "missing root_cause"}
	assert.Equal(t, "schema violation for DeepDive: missing root_cause", noProvider.Error())
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"wrapped canceled", fmt.Errorf("x: %w", context.Canceled), false},
		{"deadline", context.DeadlineExceeded, true},
		{"net timeout", timeoutNetErr{}, true},
		{"rate limit sentinel", ErrRateLimitExceeded, true},
		{"unavailable sentinel", ErrProviderUnavailable, true},
		{"circuit open", ErrCircuitOpen, false},
		{"schema", ErrSchemaViolation, false},
		{"workflow retryable", &WorkflowError{Retryable: true}, true},
		{"workflow terminal", &WorkflowError{Retryable: false}, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryableError(tt.err))
			assert.Equal(t, tt.want, IsTransportFailure(tt.err))
		})
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"nil", nil, KindNone},
		{"classification", fmt.Errorf("%w: upstream", ErrClassificationFailed), KindClassificationFailed},
		{"degraded", ErrStageDegraded, KindStageDegraded},
		{"circuit", &CircuitBreakerError{Dependency: "d", State: "open"}, KindCircuitOpen},
		{"schema", &SchemaViolationError{Shape: "s"}, KindSchema},
		{"canceled", context.Canceled, KindCanceled},
		{"auth", &ProviderError{Type: ErrorTypeAuth}, KindAuth},
		{"permission", &ProviderError{Type: ErrorTypePermission}, KindAuth},
		{"bad request", &ProviderError{Type: ErrorTypeValidation}, KindAuth},
		{"server", &ProviderError{Type: ErrorTypeProvider}, KindTransport},
		{"exhausted", fmt.Errorf("%w after 3 attempts: %w", ErrRetriesExhausted, &ProviderError{Type: ErrorTypeAuth}), KindAuth},
		{"exhausted transport", fmt.Errorf("%w after 3 attempts: %w", ErrRetriesExhausted, timeoutNetErr{}), KindTransport},
		{"deadline", context.DeadlineExceeded, KindTransport},
		{"unknown", errors.New("boom"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsAuthFailure(t *testing.T) {
	assert.True(t, IsAuthFailure(&ProviderError{Type: ErrorTypeAuth}))
	assert.False(t, IsAuthFailure(&ProviderError{Type: ErrorTypeTimeout}))
	assert.False(t, IsAuthFailure(nil))
}
