package activity

import (
	"errors"

	"go.temporal.io/sdk/temporal"

	"github.com/ahrav/go-callqa/internal/domain"
	llmerrors "github.com/ahrav/go-callqa/internal/llm/errors"
	"github.com/ahrav/go-callqa/internal/orchestrator"
)

// Application error types set on failures returned to Temporal. Workflows
// list the non-retryable ones in their retry policies.
const (
	ErrTypeValidation      = "Validation"
	ErrTypeClassification  = "ClassificationFailed"
	ErrTypePipelineTimeout = "PipelineTimeout"
	ErrTypeNotReady        = "NotReady"
	ErrTypePersistence     = "PersistenceFailed"
)

// nonRetryable wraps an error as a Temporal non-retryable application error.
func nonRetryable(tag string, cause error, msg string) error {
	return temporal.NewNonRetryableApplicationError(msg, tag, cause)
}

// retryable wraps an error as a Temporal application error eligible for the
// activity retry policy.
func retryable(tag string, cause error, msg string) error {
	return temporal.NewApplicationErrorWithCause(msg, tag, cause)
}

// evaluationError maps a pipeline failure onto a Temporal application error.
// A failed classification or an invalid request will fail the same way on
// every attempt; timeouts and an unready registry may not.
func evaluationError(err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return nonRetryable(ErrTypeValidation, err, "invalid evaluation request")
	case errors.Is(err, llmerrors.ErrClassificationFailed):
		return nonRetryable(ErrTypeClassification, err, "classification failed")
	case errors.Is(err, orchestrator.ErrPipelineTimeout):
		return retryable(ErrTypePipelineTimeout, err, "evaluation timed out")
	case errors.Is(err, orchestrator.ErrNotReady):
		return retryable(ErrTypeNotReady, err, "template registry not initialized")
	}
	if wfErr := llmerrors.ClassifyLLMError(err); wfErr != nil && !wfErr.ShouldRetry() {
		return nonRetryable(string(wfErr.Type), err, wfErr.Message)
	}
	return retryable("EvaluateCall", err, "evaluation failed")
}
