package errors

import (
	"fmt"
)

// WorkflowError provides error context for workflow and API boundaries.
// Includes error classification for retry decisions, human-readable messages,
// error codes, and structured details for observability.
type WorkflowError struct {
	Type      ErrorType      `json:"type"`      // Error classification
	Kind      FailureKind    `json:"kind"`      // Orchestrator taxonomy
	Message   string         `json:"message"`   // Human-readable message
	Code      string         `json:"code"`      // Stable error code
	Retryable bool           `json:"retryable"` // Whether to retry
	Details   map[string]any `json:"details"`   // Additional context
	Cause     error          `json:"-"`         // Underlying error
}

// Error returns formatted error string with type and code context.
func (e *WorkflowError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As compatibility.
func (e *WorkflowError) Unwrap() error {
	return e.Cause
}

// ShouldRetry returns the explicit retry recommendation.
func (e *WorkflowError) ShouldRetry() bool {
	return e.Retryable
}
