// Package orchestrator runs one call evaluation end to end: classification,
// the three scored stages in parallel, the conditional deep dive and the
// final aggregation into a report.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-callqa/internal/analysis"
	"github.com/ahrav/go-callqa/internal/domain"
	"github.com/ahrav/go-callqa/internal/llm/cache"
	"github.com/ahrav/go-callqa/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-callqa/internal/llm/errors"
	"github.com/ahrav/go-callqa/internal/llm/structured"
	"github.com/ahrav/go-callqa/internal/scoring"
	"github.com/ahrav/go-callqa/internal/templates"
	"github.com/ahrav/go-callqa/pkg/logging"
)

var tracer = otel.Tracer("callqa.orchestrator")

var (
	// ErrPipelineTimeout is returned when the whole evaluation outlives its
	// deadline, whatever stage it reached.
	ErrPipelineTimeout = errors.New("evaluation pipeline timed out")
	// ErrNotReady is returned when the template registry was never initialized.
	ErrNotReady = errors.New("orchestrator not ready: templates not initialized")
)

// Stage outcomes reported to the Observer.
const (
	OutcomeOK       = "ok"
	OutcomeCached   = "cached"
	OutcomeDegraded = "degraded"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

// TemplateSource resolves prompt templates by name.
type TemplateSource interface {
	Get(name string) (*templates.Template, error)
	Initialized() bool
}

// Observer receives stage and evaluation outcomes, typically for metrics.
type Observer interface {
	ObserveStage(stage, outcome string, elapsed time.Duration)
	ObserveEvaluation(outcome string, score int, elapsed time.Duration)
}

type noopObserver struct{}

func (noopObserver) ObserveStage(string, string, time.Duration)   {}
func (noopObserver) ObserveEvaluation(string, int, time.Duration) {}

// Orchestrator evaluates calls. It is safe for concurrent use; the global
// bound on in-flight model calls lives in the completer's handler chain.
type Orchestrator struct {
	templates       TemplateSource
	completer       structured.Completer
	cache           *cache.ResultCache
	pipelineTimeout time.Duration
	observer        Observer
	now             func() time.Time
	logger          *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCache enables result caching.
func WithCache(c *cache.ResultCache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithPipelineTimeout overrides the whole-evaluation deadline.
func WithPipelineTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.pipelineTimeout = d }
}

// WithObserver installs a metrics observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithClock overrides the clock used for timestamps and durations.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New returns an Orchestrator reading templates from src and issuing model
// calls through completer.
func New(src TemplateSource, completer structured.Completer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		templates:       src,
		completer:       completer,
		pipelineTimeout: configuration.DefaultPipelineTimeout,
		observer:        noopObserver{},
		now:             time.Now,
		logger:          slog.Default().With("component", "orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Ready reports whether evaluations can run.
func (o *Orchestrator) Ready() bool {
	return o.templates != nil && o.templates.Initialized()
}

// Evaluate runs the pipeline for req. It fails only when the registry is not
// ready, classification could not be obtained, the pipeline deadline passed
// or the caller went away; every other stage failure degrades into a
// fallback value recorded in the result.
func (o *Orchestrator) Evaluate(ctx context.Context, req *domain.EvaluationRequest) (*domain.EvaluationResult, error) {
	start := o.now()
	if !o.Ready() {
		o.observer.ObserveEvaluation(OutcomeFailed, 0, 0)
		return nil, ErrNotReady
	}

	correlationID := logging.CorrelationID(ctx)
	if correlationID == "" {
		correlationID = logging.NewCorrelationID()
		ctx = logging.WithCorrelationID(ctx, correlationID)
	}

	ctx, cancel := context.WithTimeout(ctx, o.pipelineTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "evaluate_call")
	defer span.End()
	span.SetAttributes(
		attribute.String("callqa.call_id", req.CallID),
		attribute.String("callqa.correlation_id", correlationID),
	)

	result, err := o.evaluate(ctx, req)
	elapsed := o.now().Sub(start)
	if err != nil {
		err = o.pipelineError(ctx, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.observer.ObserveEvaluation(failureOutcome(err), 0, elapsed)
		o.logger.ErrorContext(ctx, "evaluation failed",
			"call_id", req.CallID,
			"duration_ms", elapsed.Milliseconds(),
			"error", err)
		return nil, err
	}

	result.CorrelationID = correlationID
	result.ProcessingTime = elapsed
	result.EvaluatedAt = o.now().UTC()

	outcome := OutcomeOK
	if len(result.Degraded) > 0 {
		outcome = OutcomeDegraded
	}
	span.SetAttributes(
		attribute.Int("callqa.overall_score", result.OverallScore),
		attribute.Int("callqa.degraded_stages", len(result.Degraded)),
	)
	o.observer.ObserveEvaluation(outcome, result.OverallScore, elapsed)
	o.logger.InfoContext(ctx, "evaluation completed",
		"call_id", req.CallID,
		"overall_score", result.OverallScore,
		"degraded_stages", len(result.Degraded),
		"deep_dive", result.Evaluation.DeepDive != nil,
		"duration_ms", elapsed.Milliseconds())
	return result, nil
}

// pipelineError maps a deadline hit anywhere in the pipeline to
// ErrPipelineTimeout.
func (o *Orchestrator) pipelineError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %w", ErrPipelineTimeout, o.pipelineTimeout, err)
	}
	return err
}

func (o *Orchestrator) evaluate(ctx context.Context, req *domain.EvaluationRequest) (*domain.EvaluationResult, error) {
	res := &domain.EvaluationResult{CallID: req.CallID, AgentID: req.AgentID}
	eval := &res.Evaluation

	classification, err := o.classify(ctx, req)
	if err != nil {
		return nil, err
	}
	eval.Classification = *classification

	var (
		g                                       errgroup.Group
		script                                  *domain.ScriptAdherence
		compliance                              *domain.Compliance
		communication                           *domain.Communication
		scriptDeg, complianceDeg, communicationDeg *domain.Degradation
	)
	g.Go(func() error {
		script, scriptDeg = o.scriptAdherence(ctx, req)
		return nil
	})
	g.Go(func() error {
		compliance, complianceDeg = o.compliance(ctx, req)
		return nil
	})
	g.Go(func() error {
		communication, communicationDeg = o.communication(ctx, req)
		return nil
	})
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("after parallel stages: %w", err)
	}

	eval.ScriptDeviation = *script
	eval.Compliance = *compliance
	eval.Communication = *communication
	for _, d := range []*domain.Degradation{scriptDeg, complianceDeg, communicationDeg} {
		if d != nil {
			res.Degraded = append(res.Degraded, *d)
		}
	}

	if analysis.RequiresDeepDive(&eval.Classification, &eval.Compliance) {
		deepDive, deg := o.deepDive(ctx, req, eval)
		eval.DeepDive = deepDive
		if deg != nil {
			res.Degraded = append(res.Degraded, *deg)
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("after deep dive: %w", err)
		}
	} else {
		o.observer.ObserveStage(domain.StageDeepDive, OutcomeSkipped, 0)
	}

	res.OverallScore, res.Summary = scoring.Aggregate(eval)
	res.Insights = analysis.Insights(req, eval)
	return res, nil
}

func failureOutcome(err error) string {
	if errors.Is(err, ErrPipelineTimeout) {
		return "PipelineTimeout"
	}
	return string(llmerrors.KindOf(err))
}
