package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ahrav/go-callqa/internal/analysis"
	"github.com/ahrav/go-callqa/internal/domain"
	"github.com/ahrav/go-callqa/internal/llm/cache"
	llmerrors "github.com/ahrav/go-callqa/internal/llm/errors"
	"github.com/ahrav/go-callqa/internal/llm/transport"
	"github.com/ahrav/go-callqa/internal/templates"
)

// NoRedFlags stands in for an empty red-flag list in the deep-dive prompt.
const NoRedFlags = "None identified"

// cacheInput is what a stage's cache digest covers: the exact template
// revision and the variables rendered into it.
type cacheInput struct {
	Template string         `json:"template"`
	Version  int            `json:"version"`
	Vars     map[string]any `json:"vars"`
}

// run resolves the template, then returns the cached or freshly computed
// result for it. Each stage gets its own span.
func run[T domain.Result](
	ctx context.Context,
	o *Orchestrator,
	stage, name string,
	vars map[string]any,
	newResult func() T,
) (T, error) {
	var zero T
	start := o.now()

	ctx, span := tracer.Start(ctx, stage)
	defer span.End()
	span.SetAttributes(attribute.String("callqa.template", name))

	tmpl, err := o.templates.Get(name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return zero, fmt.Errorf("%s template: %w", stage, err)
	}

	digest, err := transport.Digest(zero.ShapeName(), cacheInput{Template: tmpl.Name, Version: tmpl.Version, Vars: vars})
	if err != nil {
		// Uncacheable input still evaluates.
		o.logger.WarnContext(ctx, "cache digest failed", "stage", stage, "error", err)
		digest = ""
	}

	result, hit, err := cache.GetOrCompute(ctx, o.cache, digest, func(ctx context.Context) (T, error) {
		out := newResult()
		if err := o.completer.Complete(ctx, tmpl, vars, out); err != nil {
			return zero, err
		}
		return out, nil
	})
	elapsed := o.now().Sub(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.observer.ObserveStage(stage, OutcomeFailed, elapsed)
		return zero, err
	}

	outcome := OutcomeOK
	if hit {
		outcome = OutcomeCached
	}
	span.SetAttributes(attribute.Bool("callqa.cache_hit", hit))
	o.observer.ObserveStage(stage, outcome, elapsed)
	return result, nil
}

func (o *Orchestrator) classify(ctx context.Context, req *domain.EvaluationRequest) (*domain.Classification, error) {
	vars, err := classifierVars(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", llmerrors.ErrClassificationFailed, err)
	}
	c, err := run(ctx, o, domain.StageClassification, templates.NameClassifier, vars,
		func() *domain.Classification { return new(domain.Classification) })
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("classification: %w", err)
		}
		return nil, fmt.Errorf("%w: %w", llmerrors.ErrClassificationFailed, err)
	}
	return c, nil
}

func (o *Orchestrator) scriptAdherence(ctx context.Context, req *domain.EvaluationRequest) (*domain.ScriptAdherence, *domain.Degradation) {
	attempted := req.ClientData.ScriptProgress.AttemptedSections()
	vars := map[string]any{
		"actual_transcript":  req.Transcript.Text,
		"ideal_transcript":   req.IdealScript,
		"expected_sections":  jsonString(attempted),
		"sections_attempted": jsonString(attempted),
	}
	s, err := run(ctx, o, domain.StageScriptAdherence, templates.NameScriptDeviate, vars,
		func() *domain.ScriptAdherence { return new(domain.ScriptAdherence) })
	var deg *domain.Degradation
	if err != nil {
		deg = o.degrade(ctx, domain.StageScriptAdherence, err)
		s = mustFallback[*domain.ScriptAdherence](domain.ShapeScriptAdherence)
	}
	s.ScopeTo(attempted, ScriptSectionCount)
	return s, deg
}

func (o *Orchestrator) compliance(ctx context.Context, req *domain.EvaluationRequest) (*domain.Compliance, *domain.Degradation) {
	vars := map[string]any{
		"transcript":          req.Transcript.Text,
		"compliance_sections": jsonString(ComplianceSections.Numbers()),
		"regulatory_context":  jsonString(analysis.RegulatoryContext(req)),
	}
	if fp := req.ClientData.FinancialProfile; fp != nil {
		vars["financial_profile"] = jsonString(fp)
	}
	c, err := run(ctx, o, domain.StageCompliance, templates.NameCompliance, vars,
		func() *domain.Compliance { return new(domain.Compliance) })
	if err != nil {
		return mustFallback[*domain.Compliance](domain.ShapeCompliance), o.degrade(ctx, domain.StageCompliance, err)
	}
	return c, nil
}

func (o *Orchestrator) communication(ctx context.Context, req *domain.EvaluationRequest) (*domain.Communication, *domain.Degradation) {
	vars := map[string]any{"transcript": req.Transcript.Text}
	c, err := run(ctx, o, domain.StageCommunication, templates.NameCommunication, vars,
		func() *domain.Communication { return new(domain.Communication) })
	if err != nil {
		return mustFallback[*domain.Communication](domain.ShapeCommunication), o.degrade(ctx, domain.StageCommunication, err)
	}
	return c, nil
}

// deepDive has no fallback value: a failed forensic call leaves the report
// without one.
func (o *Orchestrator) deepDive(ctx context.Context, req *domain.EvaluationRequest, eval *domain.Evaluation) (*domain.DeepDive, *domain.Degradation) {
	redFlags := NoRedFlags
	if len(eval.Classification.RedFlags) > 0 {
		redFlags = strings.Join(eval.Classification.RedFlags, "\n")
	}
	vars := map[string]any{
		"transcript": req.Transcript.Text,
		"red_flags":  redFlags,
		"violations": jsonString(eval.Compliance.Summary.Violations),
		"evaluation_results": jsonString(map[string]any{
			"classification": eval.Classification,
			"compliance":     eval.Compliance,
		}),
	}
	d, err := run(ctx, o, domain.StageDeepDive, templates.NameDeepDive, vars,
		func() *domain.DeepDive { return new(domain.DeepDive) })
	if err != nil {
		return nil, o.degrade(ctx, domain.StageDeepDive, err)
	}
	return d, nil
}

// degrade logs a contained stage failure and builds its marker.
func (o *Orchestrator) degrade(ctx context.Context, stage string, err error) *domain.Degradation {
	kind := llmerrors.KindOf(err)
	o.logger.WarnContext(ctx, "stage degraded to fallback",
		"stage", stage,
		"failure_kind", kind,
		"error", err)
	return &domain.Degradation{
		Stage:  stage,
		Kind:   string(llmerrors.KindStageDegraded),
		Reason: fmt.Sprintf("%s: %v", kind, err),
	}
}

func classifierVars(req *domain.EvaluationRequest) (map[string]any, error) {
	clientData, err := json.MarshalIndent(req.ClientData, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding client data: %w", err)
	}
	return map[string]any{
		"transcript":       req.Transcript.Text,
		"migo_call_script": req.IdealScript,
		"client_data":      string(clientData),
		"call_context":     string(req.CallContext),
	}, nil
}

// jsonString encodes v for prompt interpolation. Values reaching here are
// plain data, so an encoding failure yields an empty string.
func jsonString(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}

func mustFallback[T domain.Result](shape string) T {
	r, err := domain.FallbackFor(shape)
	if err != nil {
		panic(err)
	}
	return r.(T)
}
