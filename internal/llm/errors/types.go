// Package errors defines the failure taxonomy shared by every outbound model
// and template-registry call. It separates transient transport problems that
// may be retried from malformed model output, credential problems, and the
// locally synthesized circuit-open condition.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// ErrorType categorizes provider failures for retry classification.
// Types determine whether an operation may be retried and whether the
// failure counts against a dependency's health.
type ErrorType string

const (
	// ErrorTypeTimeout indicates request timeout or deadline exceeded (retryable).
	ErrorTypeTimeout ErrorType = "timeout"

	// ErrorTypeRateLimit indicates rate limit exceeded, retry with backoff (retryable).
	ErrorTypeRateLimit ErrorType = "rate_limit"

	// ErrorTypeNetwork indicates network connectivity issues (retryable).
	ErrorTypeNetwork ErrorType = "network"

	// ErrorTypeProvider indicates provider service unavailable (retryable).
	ErrorTypeProvider ErrorType = "provider_unavailable"

	// ErrorTypeCircuitBreaker indicates the local breaker rejected the call.
	ErrorTypeCircuitBreaker ErrorType = "circuit_breaker"

	// ErrorTypeSchema indicates the model answered but the body does not fit the expected shape.
	ErrorTypeSchema ErrorType = "schema_violation"

	// ErrorTypeValidation indicates the request itself was rejected (non-retryable).
	ErrorTypeValidation ErrorType = "validation_failed"

	// ErrorTypeAuth indicates authentication failed (non-retryable).
	ErrorTypeAuth ErrorType = "authentication"

	// ErrorTypePermission indicates insufficient permissions (non-retryable).
	ErrorTypePermission ErrorType = "permission_denied"

	// ErrorTypeQuota indicates account quota exceeded (non-retryable).
	ErrorTypeQuota ErrorType = "quota_exceeded"

	// ErrorTypeUnknown indicates an unclassified error.
	ErrorTypeUnknown ErrorType = "unknown"
)

// FailureKind is the coarse taxonomy the orchestrator reasons about.
type FailureKind string

const (
	// KindNone is reported for a nil error.
	KindNone FailureKind = ""
	// KindTransport covers timeouts, rate limiting, resets and 5xx responses.
	KindTransport FailureKind = "TransportFailure"
	// KindSchema covers model output that cannot be decoded into the expected shape.
	KindSchema FailureKind = "SchemaViolation"
	// KindAuth covers rejected credentials and permanent 4xx responses.
	KindAuth FailureKind = "AuthFailure"
	// KindCircuitOpen is raised locally without a network attempt.
	KindCircuitOpen FailureKind = "CircuitOpen"
	// KindClassificationFailed aborts the whole evaluation.
	KindClassificationFailed FailureKind = "ClassificationFailed"
	// KindStageDegraded marks a scored stage that fell back to its default value.
	KindStageDegraded FailureKind = "StageDegraded"
	// KindCanceled is reported when the caller abandoned the call.
	KindCanceled FailureKind = "Canceled"
	// KindUnknown is anything else.
	KindUnknown FailureKind = "Unknown"
)

// Common errors for consistent matching with errors.Is.
var (
	// ErrProviderUnavailable indicates the provider service is down or unreachable.
	ErrProviderUnavailable = errors.New("provider service unavailable")

	// ErrRateLimitExceeded indicates rate limit has been exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrCircuitOpen indicates the circuit breaker rejected the call.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrSchemaViolation indicates the response did not match the expected shape.
	ErrSchemaViolation = errors.New("schema violation")

	// ErrRetriesExhausted indicates every permitted attempt failed.
	ErrRetriesExhausted = errors.New("all retries exhausted")

	// ErrClassificationFailed indicates the load-bearing classification stage failed.
	ErrClassificationFailed = errors.New("classification failed")

	// ErrStageDegraded indicates a scored stage was replaced by its fallback value.
	ErrStageDegraded = errors.New("stage degraded")

	// ErrInvalidResponse indicates the provider returned an unusable envelope.
	ErrInvalidResponse = errors.New("invalid provider response")
)

// ProviderError captures structured error responses from model providers
// and the template registry. Includes HTTP status codes, provider-specific
// error codes, and retry timing.
type ProviderError struct {
	Provider   string    `json:"provider"`    // Provider or dependency name
	StatusCode int       `json:"status_code"` // HTTP status code, 0 for network errors
	Message    string    `json:"message"`     // Error message
	Code       string    `json:"code"`        // Provider error code
	Type       ErrorType `json:"type"`        // Classified error type
	RetryAfter int       `json:"retry_after"` // Retry-After header value in seconds
}

// Error returns formatted provider error with status code context.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// IsRetryable reports whether the failure is transient.
func (e *ProviderError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeNetwork, ErrorTypeProvider:
		return true
	default:
		return false
	}
}

// GetRetryAfter returns the server-provided backoff hint.
func (e *ProviderError) GetRetryAfter() time.Duration {
	if e.RetryAfter > 0 {
		return time.Duration(e.RetryAfter) * time.Second
	}
	return 0
}

// CircuitBreakerError is returned without touching the network while a
// dependency's breaker is open or its single half-open probe is in flight.
type CircuitBreakerError struct {
	Dependency string `json:"dependency"`
	State      string `json:"state"`    // "open" or "half-open"
	ResetAt    int64  `json:"reset_at"` // Unix timestamp when a probe will be admitted
}

// Error returns formatted circuit breaker error with state context.
func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker %s for %s", e.State, e.Dependency)
}

// Is lets errors.Is(err, ErrCircuitOpen) match.
func (e *CircuitBreakerError) Is(target error) bool { return target == ErrCircuitOpen }

// SchemaViolationError describes model output that could not be turned into
// the closed record a template promised.
type SchemaViolationError struct {
	Shape    string `json:"shape"`
	Provider string `json:"provider,omitempty"`
	Reason   string `json:"reason"`
	Cause    error  `json:"-"`
}

// Error returns the shape and reason.
func (e *SchemaViolationError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("schema violation for %s from %s: %s", e.Shape, e.Provider, e.Reason)
	}
	return fmt.Sprintf("schema violation for %s: %s", e.Shape, e.Reason)
}

// Unwrap exposes the decode or validation error.
func (e *SchemaViolationError) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, ErrSchemaViolation) match.
func (e *SchemaViolationError) Is(target error) bool { return target == ErrSchemaViolation }

// IsRetryableError reports whether err is a transient transport failure.
// Schema violations, auth failures and circuit-open rejections are never
// retried; caller cancellation is never retried either.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrSchemaViolation) {
		return false
	}

	var wfErr *WorkflowError
	if errors.As(err, &wfErr) {
		return wfErr.ShouldRetry()
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.IsRetryable()
	}

	if errors.Is(err, ErrRateLimitExceeded) || errors.Is(err, ErrProviderUnavailable) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	type statusCoder interface {
		StatusCode() int
	}
	if sc, ok := err.(statusCoder); ok {
		code := sc.StatusCode()
		return code == http.StatusTooManyRequests ||
			code == http.StatusRequestTimeout ||
			code == http.StatusGatewayTimeout ||
			code >= http.StatusInternalServerError
	}

	return false
}

// IsTransportFailure is IsRetryableError under the name the breaker uses:
// only these failures say something about a dependency's health.
func IsTransportFailure(err error) bool { return IsRetryableError(err) }

// KindOf maps an arbitrary error chain onto the failure taxonomy.
func KindOf(err error) FailureKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrClassificationFailed):
		return KindClassificationFailed
	case errors.Is(err, ErrStageDegraded):
		return KindStageDegraded
	case errors.Is(err, ErrCircuitOpen):
		return KindCircuitOpen
	case errors.Is(err, ErrSchemaViolation):
		return KindSchema
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		switch provErr.Type {
		case ErrorTypeAuth, ErrorTypePermission, ErrorTypeQuota, ErrorTypeValidation:
			return KindAuth
		}
	}

	if IsRetryableError(err) || errors.Is(err, ErrRetriesExhausted) {
		return KindTransport
	}
	return KindUnknown
}

// IsAuthFailure reports whether err is terminal because the dependency
// refused the request itself.
func IsAuthFailure(err error) bool { return KindOf(err) == KindAuth }
