package providers

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	llmerrors "github.com/ahrav/go-callqa/internal/llm/errors"
)

// ServerErrorStatusThreshold defines the HTTP status code threshold for server errors.
const ServerErrorStatusThreshold = 500

// MaxResponseBytes caps a provider response body.
const MaxResponseBytes = 8 << 20

// readBody reads at most MaxResponseBytes. A longer body cannot be a valid
// structured result and is reported as a schema violation.
func readBody(provider string, r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, MaxResponseBytes+1))
	if err != nil {
		return nil, &llmerrors.ProviderError{
			Provider: provider,
			Message:  fmt.Sprintf("failed to read response: %v", err),
			Type:     llmerrors.ErrorTypeNetwork,
		}
	}
	if len(body) > MaxResponseBytes {
		return nil, fmt.Errorf("%w: %s response exceeds %d bytes", llmerrors.ErrSchemaViolation, provider, MaxResponseBytes)
	}
	return body, nil
}

// classifyErrorType determines ErrorType from HTTP status and provider error codes.
// It examines both provider-specific error codes and HTTP status codes to
// classify errors into retryable and non-retryable categories.
func classifyErrorType(statusCode int, errorCode string) llmerrors.ErrorType {
	lowerCode := strings.ToLower(errorCode)
	if strings.Contains(lowerCode, "rate") || strings.Contains(lowerCode, "limit") {
		return llmerrors.ErrorTypeRateLimit
	}
	if strings.Contains(lowerCode, "timeout") {
		return llmerrors.ErrorTypeTimeout
	}
	if strings.Contains(lowerCode, "overloaded") {
		return llmerrors.ErrorTypeProvider
	}
	if strings.Contains(lowerCode, "auth") || strings.Contains(lowerCode, "unauthorized") {
		return llmerrors.ErrorTypeAuth
	}
	if strings.Contains(lowerCode, "permission") || strings.Contains(lowerCode, "forbidden") {
		return llmerrors.ErrorTypePermission
	}
	if strings.Contains(lowerCode, "quota") || strings.Contains(lowerCode, "insufficient") {
		return llmerrors.ErrorTypeQuota
	}

	// Fall back to status code classification.
	switch statusCode {
	case http.StatusTooManyRequests:
		return llmerrors.ErrorTypeRateLimit
	case http.StatusUnauthorized:
		return llmerrors.ErrorTypeAuth
	case http.StatusForbidden:
		return llmerrors.ErrorTypePermission
	case http.StatusPaymentRequired:
		return llmerrors.ErrorTypeQuota
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return llmerrors.ErrorTypeTimeout
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		return llmerrors.ErrorTypeValidation
	default:
		if statusCode >= ServerErrorStatusThreshold {
			return llmerrors.ErrorTypeProvider
		}
		return llmerrors.ErrorTypeUnknown
	}
}

// retryAfterSeconds reads a delta-seconds Retry-After header. HTTP-date
// values are ignored.
func retryAfterSeconds(h http.Header) int {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return secs
}
