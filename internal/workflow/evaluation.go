// Package workflow runs call evaluations as durable Temporal workflows.
//
// Workflow code must stay deterministic: ids come from SideEffect, time from
// workflow.Now, and everything that touches the network runs in an activity.
package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/ahrav/go-callqa/internal/activity"
	"github.com/ahrav/go-callqa/internal/domain"
	"github.com/ahrav/go-callqa/pkg/logging"
)

// Version gate for EvaluateCallWorkflow.
const (
	versionChangeID = "evaluate-call.v"
	currentVersion  = 1
)

// Activity timeouts. EvaluateCall must outlive the 180s pipeline deadline so
// a timed-out pipeline reports PipelineTimeout rather than being killed.
const (
	evaluateStartToClose = 4 * time.Minute
	evaluateHeartbeat    = 4 * time.Minute
	persistStartToClose  = 30 * time.Second
)

// SkipReasonTalkTime marks calls too short to evaluate.
const SkipReasonTalkTime = "talk_time_too_short"

// EvaluateCallInput starts an EvaluateCallWorkflow.
type EvaluateCallInput struct {
	Request       domain.EvaluationRequest `json:"request"`
	CorrelationID string                   `json:"correlation_id,omitempty"`
}

// EvaluateCallOutput is the workflow result. Result is nil for skipped calls.
type EvaluateCallOutput struct {
	CallID        string                   `json:"call_id"`
	CorrelationID string                   `json:"correlation_id"`
	Skipped       bool                     `json:"skipped"`
	SkipReason    string                   `json:"skip_reason,omitempty"`
	Result        *domain.EvaluationResult `json:"result,omitempty"`
	Persisted     bool                     `json:"persisted"`
}

// EvaluateCallWorkflow evaluates one call and persists the report.
//
// Invalid requests fail immediately without retry. Calls below the talk time
// threshold are skipped. A failed classification fails the workflow; any
// other pipeline failure is retried by the activity policy. Persistence is
// best effort: its failure is logged and reflected in Persisted.
func EvaluateCallWorkflow(ctx workflow.Context, in EvaluateCallInput) (*EvaluateCallOutput, error) {
	_ = workflow.GetVersion(ctx, versionChangeID, workflow.DefaultVersion, currentVersion)
	logger := workflow.GetLogger(ctx)
	req := in.Request

	if err := req.Validate(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(
			"invalid evaluation request",
			activity.ErrTypeValidation,
			err,
		)
	}

	correlationID := in.CorrelationID
	if correlationID == "" {
		encoded := workflow.SideEffect(ctx, func(workflow.Context) any {
			return logging.NewCorrelationID()
		})
		if err := encoded.Get(&correlationID); err != nil {
			return nil, err
		}
	}
	out := &EvaluateCallOutput{CallID: req.CallID, CorrelationID: correlationID}

	if skip, talkTime := req.ShouldSkip(); skip {
		logger.Info("Call skipped, talk time below threshold",
			"call_id", req.CallID,
			"talk_time", talkTime,
			"threshold", domain.MinTalkTimeSeconds)
		out.Skipped = true
		out.SkipReason = SkipReasonTalkTime
		return out, nil
	}

	var a *activity.Activities

	evalCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: evaluateStartToClose,
		HeartbeatTimeout:    evaluateHeartbeat,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
			NonRetryableErrorTypes: []string{
				activity.ErrTypeValidation,
				activity.ErrTypeClassification,
			},
		},
	})
	var res domain.EvaluationResult
	if err := workflow.ExecuteActivity(evalCtx, a.EvaluateCall, activity.EvaluateCallInput{
		Request:       req,
		CorrelationID: correlationID,
	}).Get(evalCtx, &res); err != nil {
		return nil, err
	}
	out.Result = &res

	persistCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: persistStartToClose,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    3,
		},
	})
	if err := workflow.ExecuteActivity(persistCtx, a.PersistEvaluation, &res).Get(persistCtx, nil); err != nil {
		logger.Warn("Persisting evaluation failed",
			"call_id", req.CallID,
			"correlation_id", correlationID,
			"error", err)
		return out, nil
	}
	out.Persisted = true
	return out, nil
}
