// Package worker wires the evaluation workflow and activities into a
// Temporal worker and starts workflows on behalf of the HTTP API.
package worker

import (
	sdkworker "go.temporal.io/sdk/worker"

	"github.com/ahrav/go-callqa/internal/activity"
	"github.com/ahrav/go-callqa/internal/workflow"
)

// RegisterAll registers the workflow and activities with w. Call it once,
// before the worker starts.
func RegisterAll(w sdkworker.Registry, acts *activity.Activities) {
	w.RegisterWorkflow(workflow.EvaluateCallWorkflow)

	w.RegisterActivity(acts.EvaluateCall)
	w.RegisterActivity(acts.PersistEvaluation)
}
