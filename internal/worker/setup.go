package worker

import (
	"context"
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"

	"github.com/ahrav/go-callqa/internal/domain"
	"github.com/ahrav/go-callqa/internal/workflow"
	"github.com/ahrav/go-callqa/pkg/logging"
)

// WorkflowIDPrefix prefixes evaluation workflow ids; the call id follows.
const WorkflowIDPrefix = "evaluate-call-"

// Dial connects to the Temporal frontend at hostPort, logging through the
// process slog handler.
func Dial(hostPort, namespace string) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  hostPort,
		Namespace: namespace,
		Logger:    tlog.NewStructuredLogger(slog.Default().With("component", "temporal")),
	})
	if err != nil {
		return nil, fmt.Errorf("dial temporal %s: %w", hostPort, err)
	}
	return c, nil
}

// WorkflowStarter is the part of client.Client the Submitter uses.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow any, args ...any) (client.WorkflowRun, error)
}

// Submitter starts EvaluateCallWorkflow executions on a task queue.
type Submitter struct {
	starter   WorkflowStarter
	taskQueue string
}

// NewSubmitter returns a Submitter starting workflows through starter.
func NewSubmitter(starter WorkflowStarter, taskQueue string) *Submitter {
	return &Submitter{starter: starter, taskQueue: taskQueue}
}

// Submit starts an evaluation for req. The workflow id is derived from the
// call id so a resubmission while one is running is rejected by Temporal.
func (s *Submitter) Submit(ctx context.Context, req *domain.EvaluationRequest) (workflowID, runID string, err error) {
	correlationID := logging.CorrelationID(ctx)
	if correlationID == "" {
		correlationID = logging.NewCorrelationID()
	}

	run, err := s.starter.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        WorkflowIDPrefix + req.CallID,
		TaskQueue: s.taskQueue,
		Memo:      map[string]any{"correlation_id": correlationID},
	}, workflow.EvaluateCallWorkflow, workflow.EvaluateCallInput{
		Request:       *req,
		CorrelationID: correlationID,
	})
	if err != nil {
		return "", "", fmt.Errorf("start evaluation workflow for call %s: %w", req.CallID, err)
	}
	return run.GetID(), run.GetRunID(), nil
}
