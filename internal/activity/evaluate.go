// Package activity implements the Temporal activities behind durable call
// evaluation.
package activity

import (
	"context"
	"time"

	"github.com/ahrav/go-callqa/internal/domain"
	"github.com/ahrav/go-callqa/pkg/activity"
	"github.com/ahrav/go-callqa/pkg/events"
	"github.com/ahrav/go-callqa/pkg/logging"
)

const eventSource = "callqa.activity"

// Evaluator runs the evaluation pipeline.
type Evaluator interface {
	Evaluate(ctx context.Context, req *domain.EvaluationRequest) (*domain.EvaluationResult, error)
}

// EvaluationWriter persists finished reports.
type EvaluationWriter interface {
	UpsertEvaluation(ctx context.Context, res *domain.EvaluationResult) error
}

// EvaluateCallInput is the input of EvaluateCall.
type EvaluateCallInput struct {
	Request       domain.EvaluationRequest `json:"request"`
	CorrelationID string                   `json:"correlation_id"`
}

// Activities runs evaluations and persists their reports.
type Activities struct {
	activity.BaseActivities
	evaluator Evaluator
	writer    EvaluationWriter
}

// NewActivities returns activities evaluating through ev and persisting
// through w. w may be nil when persistence is not configured; reports are
// then dropped with a warning.
func NewActivities(base activity.BaseActivities, ev Evaluator, w EvaluationWriter) *Activities {
	return &Activities{BaseActivities: base, evaluator: ev, writer: w}
}

// EvaluateCall runs the full pipeline for one call. Stage degradations are
// part of a successful result; only failures that leave no report are
// returned as errors.
func (a *Activities) EvaluateCall(ctx context.Context, in EvaluateCallInput) (*domain.EvaluationResult, error) {
	req := in.Request
	if err := req.Validate(); err != nil {
		return nil, nonRetryable(ErrTypeValidation, err, "invalid evaluation request")
	}

	correlationID := in.CorrelationID
	if correlationID == "" {
		correlationID = logging.NewCorrelationID()
	}
	ctx = logging.WithCorrelationID(ctx, correlationID)

	wfCtx := a.GetWorkflowContext(ctx)
	activity.SafeLog(ctx, "Starting EvaluateCall activity",
		"call_id", req.CallID,
		"correlation_id", correlationID,
		"workflow_id", wfCtx.WorkflowID,
		"attempt", wfCtx.Attempt)
	a.RecordHeartbeat(ctx, req.CallID)

	start := time.Now()
	res, err := a.evaluator.Evaluate(ctx, &req)
	if err != nil {
		activity.SafeLogError(ctx, "Evaluation failed",
			"call_id", req.CallID,
			"correlation_id", correlationID,
			"error", err)
		a.emit(ctx, wfCtx, events.TypeEvaluationFailed, req.CallID, correlationID, "",
			evaluationFailedPayload{Error: err.Error(), Attempt: wfCtx.Attempt})
		return nil, evaluationError(err)
	}

	for _, d := range res.Degraded {
		a.emit(ctx, wfCtx, events.TypeStageDegraded, req.CallID, correlationID, d.Stage, d)
	}
	a.emit(ctx, wfCtx, events.TypeEvaluationCompleted, req.CallID, correlationID, "",
		evaluationCompletedPayload{
			AgentID:          res.AgentID,
			OverallScore:     res.OverallScore,
			DegradedStages:   len(res.Degraded),
			DeepDive:         res.Evaluation.DeepDive != nil,
			ProcessingTimeMS: time.Since(start).Milliseconds(),
		})

	activity.SafeLog(ctx, "EvaluateCall completed",
		"call_id", req.CallID,
		"overall_score", res.OverallScore,
		"degraded_stages", len(res.Degraded))
	return res, nil
}

// PersistEvaluation upserts res. Errors are retryable; the workflow treats a
// final failure as non-fatal.
func (a *Activities) PersistEvaluation(ctx context.Context, res *domain.EvaluationResult) error {
	if res == nil || res.CallID == "" {
		return nonRetryable(ErrTypeValidation, nil, "evaluation without call id")
	}
	if a.writer == nil {
		activity.SafeLogWarn(ctx, "Persistence not configured, dropping evaluation", "call_id", res.CallID)
		return nil
	}
	if err := a.writer.UpsertEvaluation(ctx, res); err != nil {
		return retryable(ErrTypePersistence, err, "persisting evaluation failed")
	}
	activity.SafeLog(ctx, "Evaluation persisted", "call_id", res.CallID)
	return nil
}

type evaluationCompletedPayload struct {
	AgentID          string `json:"agent_id"`
	OverallScore     int    `json:"overall_score"`
	DegradedStages   int    `json:"degraded_stages"`
	DeepDive         bool   `json:"deep_dive"`
	ProcessingTimeMS int64  `json:"processing_time_ms"`
}

type evaluationFailedPayload struct {
	Error   string `json:"error"`
	Attempt int32  `json:"attempt"`
}

func (a *Activities) emit(
	ctx context.Context,
	wfCtx activity.WorkflowContext,
	eventType, callID, correlationID, discriminator string,
	payload any,
) {
	env, err := events.NewEnvelope(eventType, eventSource, callID, correlationID, discriminator, payload)
	if err != nil {
		activity.SafeLogError(ctx, "Building event failed", "event_type", eventType, "error", err)
		return
	}
	env.WorkflowID = wfCtx.WorkflowID
	env.RunID = wfCtx.RunID
	a.EmitEventSafe(ctx, env, eventType)
}
