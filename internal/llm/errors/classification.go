package errors

import (
	"context"
	"errors"
	"strings"
)

// ClassifyLLMError transforms errors into WorkflowError with retry guidance.
// Typed errors are examined first, then sentinels, then message patterns for
// errors that arrive untyped (for example from the Temporal boundary).
func ClassifyLLMError(err error) *WorkflowError {
	if err == nil {
		return nil
	}

	var existing *WorkflowError
	if errors.As(err, &existing) {
		return existing
	}

	if workflowErr := classifyTypedErrors(err); workflowErr != nil {
		return workflowErr
	}

	if workflowErr := classifySentinelErrors(err); workflowErr != nil {
		return workflowErr
	}

	return classifyStringPatternErrors(err)
}

func classifyTypedErrors(err error) *WorkflowError {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return &WorkflowError{
			Type:      providerErr.Type,
			Kind:      KindOf(err),
			Message:   providerErr.Message,
			Code:      providerErr.Code,
			Retryable: providerErr.IsRetryable(),
			Details: map[string]any{
				"provider":    providerErr.Provider,
				"status_code": providerErr.StatusCode,
			},
			Cause: err,
		}
	}

	var cbErr *CircuitBreakerError
	if errors.As(err, &cbErr) {
		return &WorkflowError{
			Type:      ErrorTypeCircuitBreaker,
			Kind:      KindCircuitOpen,
			Message:   cbErr.Error(),
			Code:      "CIRCUIT_OPEN",
			Retryable: false,
			Details: map[string]any{
				"dependency": cbErr.Dependency,
				"state":      cbErr.State,
				"reset_at":   cbErr.ResetAt,
			},
			Cause: err,
		}
	}

	var schemaErr *SchemaViolationError
	if errors.As(err, &schemaErr) {
		return &WorkflowError{
			Type:      ErrorTypeSchema,
			Kind:      KindSchema,
			Message:   schemaErr.Error(),
			Code:      "SCHEMA_VIOLATION",
			Retryable: false,
			Details:   map[string]any{"shape": schemaErr.Shape},
			Cause:     err,
		}
	}

	return nil
}

func classifySentinelErrors(err error) *WorkflowError {
	switch {
	case errors.Is(err, ErrClassificationFailed):
		return &WorkflowError{
			Type:      ErrorTypeProvider,
			Kind:      KindClassificationFailed,
			Message:   err.Error(),
			Code:      "CLASSIFICATION_FAILED",
			Retryable: false,
			Cause:     err,
		}
	case errors.Is(err, context.DeadlineExceeded):
		return &WorkflowError{
			Type:      ErrorTypeTimeout,
			Kind:      KindTransport,
			Message:   err.Error(),
			Code:      "TIMEOUT",
			Retryable: true,
			Cause:     err,
		}
	case errors.Is(err, ErrRateLimitExceeded):
		return &WorkflowError{
			Type:      ErrorTypeRateLimit,
			Kind:      KindTransport,
			Message:   err.Error(),
			Code:      "RATE_LIMIT",
			Retryable: true,
			Cause:     err,
		}
	case errors.Is(err, ErrProviderUnavailable):
		return &WorkflowError{
			Type:      ErrorTypeProvider,
			Kind:      KindTransport,
			Message:   err.Error(),
			Code:      "PROVIDER_UNAVAILABLE",
			Retryable: true,
			Cause:     err,
		}
	case errors.Is(err, ErrRetriesExhausted):
		return &WorkflowError{
			Type:      ErrorTypeProvider,
			Kind:      KindTransport,
			Message:   err.Error(),
			Code:      "MAX_RETRIES",
			Retryable: false,
			Details:   map[string]any{"original_error": err.Error()},
			Cause:     err,
		}
	}

	return nil
}

func classifyStringPatternErrors(err error) *WorkflowError {
	errMsg := strings.ToLower(err.Error())

	newErr := func(t ErrorType, kind FailureKind, msg, code string, retryable bool) *WorkflowError {
		return &WorkflowError{
			Type:      t,
			Kind:      kind,
			Message:   msg,
			Code:      code,
			Retryable: retryable,
			Details:   map[string]any{"original_error": err.Error()},
			Cause:     err,
		}
	}

	switch {
	case strings.Contains(errMsg, "rate limit"):
		return newErr(ErrorTypeRateLimit, KindTransport, "Rate limit exceeded", "RATE_LIMIT", true)
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline"):
		return newErr(ErrorTypeTimeout, KindTransport, "Request timeout", "TIMEOUT", true)
	case strings.Contains(errMsg, "unauthorized") || strings.Contains(errMsg, "authentication"):
		return newErr(ErrorTypeAuth, KindAuth, "Authentication failed", "AUTH_FAILED", false)
	case strings.Contains(errMsg, "forbidden") || strings.Contains(errMsg, "permission"):
		return newErr(ErrorTypePermission, KindAuth, "Permission denied", "PERMISSION_DENIED", false)
	case strings.Contains(errMsg, "network") || strings.Contains(errMsg, "connection"):
		return newErr(ErrorTypeNetwork, KindTransport, "Network error", "NETWORK_ERROR", true)
	default:
		return newErr(ErrorTypeUnknown, KindUnknown, "Unknown error", "UNKNOWN", false)
	}
}
