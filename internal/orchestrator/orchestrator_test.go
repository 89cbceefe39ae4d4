package orchestrator_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-callqa/internal/domain"
	"github.com/ahrav/go-callqa/internal/llm/cache"
	"github.com/ahrav/go-callqa/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-callqa/internal/llm/errors"
	"github.com/ahrav/go-callqa/internal/orchestrator"
	"github.com/ahrav/go-callqa/internal/templates"
	"github.com/ahrav/go-callqa/pkg/logging"
)

const (
	classificationJSON = `{
		"sections_completed": [1, 2],
		"sections_attempted": [1, 2, 3],
		"call_outcome": "incomplete",
		"script_adherence_preview": {"1": "High", "2": "High", "3": "Medium"},
		"red_flags": [],
		"requires_deep_dive": false,
		"early_termination_justified": true
	}`

	// Section 5 was never attempted; the model still graded it harshly.
	scriptJSON = `{"sections": {
		"1": {"adherence": "High", "content_accuracy": "Met", "sequence_adherence": "Met", "language_phrasing": "Exceeded", "customization": "Met", "positive_deviations": [], "negative_deviations": [], "critical_misses": []},
		"2": {"adherence": "High", "content_accuracy": "Met", "sequence_adherence": "Met", "language_phrasing": "Met", "customization": "Met", "positive_deviations": [], "negative_deviations": [], "critical_misses": []},
		"3": {"adherence": "Medium", "content_accuracy": "Met", "sequence_adherence": "Met", "language_phrasing": "Met", "customization": "Met", "positive_deviations": [], "negative_deviations": [], "critical_misses": []},
		"5": {"adherence": "Low", "content_accuracy": "Missed", "sequence_adherence": "Missed", "language_phrasing": "Missed", "customization": "Missed", "positive_deviations": [], "negative_deviations": ["skipped rate disclosure"], "critical_misses": ["no rate disclosure"]}
	}}`

	complianceJSON = `{
		"items": [
			{"name": "Recorded line disclosure", "status": "No Infraction"},
			{"name": "Rate disclosure", "status": "N/A"}
		],
		"summary": {"no_infraction": ["Recorded line disclosure"], "coaching_needed": [], "violations": [], "not_applicable": ["Rate disclosure"]}
	}`

	communicationJSON = `{
		"skills": [
			{"skill": "Active listening", "rating": "Missed"},
			{"skill": "Empathy", "rating": "Missed"},
			{"skill": "Rapport", "rating": "Exceeded"},
			{"skill": "Clarity", "rating": "Met"}
		],
		"summary": {"exceeded": ["Rapport"], "met": ["Clarity"], "missed": ["Active listening", "Empathy"]}
	}`

	deepDiveJSON = `{
		"findings": [{"issue": "Disclosure skipped", "severity": "High", "evidence": "00:42", "recommendation": "Retrain"}],
		"root_cause": "Agent rushed the close",
		"customer_impact": "Medium",
		"urgent_actions": ["Review call"]
	}`
)

// fakeCompleter answers by template name and records what it was asked.
type fakeCompleter struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	block     map[string]bool
	calls     map[string]int
	vars      map[string]map[string]any
}

func newFakeCompleter() *fakeCompleter {
	return &fakeCompleter{
		responses: map[string]string{
			templates.NameClassifier:    classificationJSON,
			templates.NameScriptDeviate: scriptJSON,
			templates.NameCompliance:    complianceJSON,
			templates.NameCommunication: communicationJSON,
			templates.NameDeepDive:      deepDiveJSON,
		},
		errs:  map[string]error{},
		block: map[string]bool{},
		calls: map[string]int{},
		vars:  map[string]map[string]any{},
	}
}

func (f *fakeCompleter) Complete(ctx context.Context, tmpl *templates.Template, vars map[string]any, out domain.Result) error {
	f.mu.Lock()
	f.calls[tmpl.Name]++
	f.vars[tmpl.Name] = vars
	err, resp, block := f.errs[tmpl.Name], f.responses[tmpl.Name], f.block[tmpl.Name]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(resp), out); err != nil {
		return err
	}
	return out.Validate()
}

func (f *fakeCompleter) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeCompleter) varsFor(name string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.vars[name]
}

type recordingObserver struct {
	mu          sync.Mutex
	stages      map[string]string
	evaluations []string
}

func (r *recordingObserver) ObserveStage(stage, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stages == nil {
		r.stages = map[string]string{}
	}
	r.stages[stage] = outcome
}

func (r *recordingObserver) ObserveEvaluation(outcome string, _ int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluations = append(r.evaluations, outcome)
}

func readyRegistry(t *testing.T) *templates.Registry {
	t.Helper()
	reg := templates.NewRegistry(templates.FetcherFunc(func(_ context.Context, name string) (*templates.Template, error) {
		shape, ok := templates.ShapeFor(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", templates.ErrTemplateNotFound, name)
		}
		return &templates.Template{
			Name:    name,
			Version: 1,
			System:  "You evaluate calls.",
			User:    "{{transcript}}",
			Shape:   shape,
		}, nil
	}))
	require.NoError(t, reg.Initialize(context.Background()))
	return reg
}

func scenarioRequest() *domain.EvaluationRequest {
	talk := 900
	return &domain.EvaluationRequest{
		CallID:      "call-1",
		AgentID:     "agent-7",
		CallContext: domain.CallContextFirstCall,
		Transcript: domain.TranscriptData{
			Text: "Agent: Thanks for calling.\nClient: I'd like a loan.",
			Metadata: domain.TranscriptMetadata{
				Duration:    1000,
				Timestamp:   time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC),
				TalkTime:    &talk,
				Disposition: "loan_denied",
			},
		},
		IdealScript: "Section 1: greeting ...",
		ClientData: domain.ClientData{
			LeadID: "L-100",
			ScriptProgress: domain.ScriptProgress{
				SectionsAttempted:    []int{1, 2, 3},
				LastCompletedSection: 3,
				TerminationReason:    domain.TerminationLoanDenied,
			},
		},
	}
}

func TestEvaluateScenario(t *testing.T) {
	fc := newFakeCompleter()
	obs := &recordingObserver{}
	o := orchestrator.New(readyRegistry(t), fc, orchestrator.WithObserver(obs))

	ctx := logging.WithCorrelationID(context.Background(), "eval_0123456789ab")
	res, err := o.Evaluate(ctx, scenarioRequest())
	require.NoError(t, err)

	assert.Equal(t, 96, res.OverallScore)
	assert.Equal(t, "call-1", res.CallID)
	assert.Equal(t, "agent-7", res.AgentID)
	assert.Equal(t, "eval_0123456789ab", res.CorrelationID)
	assert.Empty(t, res.Degraded)
	assert.Nil(t, res.Evaluation.DeepDive)
	assert.False(t, res.EvaluatedAt.IsZero())

	script := res.Evaluation.ScriptDeviation
	for n := 4; n <= orchestrator.ScriptSectionCount; n++ {
		sec, ok := script.Section(n)
		require.True(t, ok, "section %d", n)
		assert.Equal(t, domain.AdherenceNotReached, sec.Adherence, "section %d", n)
		assert.Empty(t, sec.NegativeDeviations, "section %d", n)
		assert.Empty(t, sec.CriticalMisses, "section %d", n)
	}
	sec1, _ := script.Section(1)
	assert.Equal(t, domain.AdherenceHigh, sec1.Adherence)

	assert.Equal(t, 0, fc.callCount(templates.NameDeepDive))
	assert.Equal(t, orchestrator.OutcomeSkipped, obs.stages[domain.StageDeepDive])
	assert.Equal(t, []string{orchestrator.OutcomeOK}, obs.evaluations)
	assert.Equal(t, []string{"Active listening", "Empathy"}, res.Summary.AreasForImprovement)
}

func TestEvaluateStageVariables(t *testing.T) {
	fc := newFakeCompleter()
	o := orchestrator.New(readyRegistry(t), fc)

	req := scenarioRequest()
	dti := 0.45
	req.ClientData.FinancialProfile = &domain.FinancialProfile{DTIRatio: &dti}
	_, err := o.Evaluate(context.Background(), req)
	require.NoError(t, err)

	cls := fc.varsFor(templates.NameClassifier)
	assert.Equal(t, req.IdealScript, cls["migo_call_script"])
	assert.Contains(t, cls["client_data"], "\n  \"lead_id\": \"L-100\"")

	script := fc.varsFor(templates.NameScriptDeviate)
	assert.Equal(t, "[1,2,3]", script["sections_attempted"])
	assert.Equal(t, req.Transcript.Text, script["actual_transcript"])

	comp := fc.varsFor(templates.NameCompliance)
	assert.Equal(t, "[3,4,5,6,7,8]", comp["compliance_sections"])
	assert.Contains(t, comp["regulatory_context"], "enhanced_disclosure")
	assert.Contains(t, comp["financial_profile"], `"dti_ratio":0.45`)

	assert.Equal(t, map[string]any{"transcript": req.Transcript.Text}, fc.varsFor(templates.NameCommunication))
}

func TestEvaluateGeneratesCorrelationID(t *testing.T) {
	o := orchestrator.New(readyRegistry(t), newFakeCompleter())

	res, err := o.Evaluate(context.Background(), scenarioRequest())
	require.NoError(t, err)
	assert.Regexp(t, `^eval_[0-9a-f]{12}$`, res.CorrelationID)
}

func TestComplianceFailureIsContained(t *testing.T) {
	fc := newFakeCompleter()
	fc.errs[templates.NameCompliance] = &llmerrors.SchemaViolationError{
		Shape:    domain.ShapeCompliance,
		Provider: "openrouter",
		Reason:   "summary inconsistent",
	}
	o := orchestrator.New(readyRegistry(t), fc)

	res, err := o.Evaluate(context.Background(), scenarioRequest())
	require.NoError(t, err)

	require.Len(t, res.Degraded, 1)
	assert.Equal(t, domain.StageCompliance, res.Degraded[0].Stage)
	assert.Equal(t, string(llmerrors.KindStageDegraded), res.Degraded[0].Kind)
	assert.Contains(t, res.Degraded[0].Reason, string(llmerrors.KindSchema))
	assert.Equal(t, []string{domain.ManualReviewMarker}, res.Evaluation.Compliance.Summary.Violations)

	// The fallback carries a violation, which also opens the deep-dive gate.
	require.NotNil(t, res.Evaluation.DeepDive)
	assert.Equal(t, 1, fc.callCount(templates.NameDeepDive))
	assert.Equal(t, 100-15-6+2, res.OverallScore)
	assert.Equal(t, []string{domain.ManualReviewMarker}, res.Summary.CriticalIssues)
}

func TestScriptFailureStillScoped(t *testing.T) {
	fc := newFakeCompleter()
	fc.errs[templates.NameScriptDeviate] = fmt.Errorf("wrapped: %w", llmerrors.ErrRetriesExhausted)
	o := orchestrator.New(readyRegistry(t), fc)

	res, err := o.Evaluate(context.Background(), scenarioRequest())
	require.NoError(t, err)

	assert.True(t, res.IsDegraded(domain.StageScriptAdherence))
	for n := 4; n <= orchestrator.ScriptSectionCount; n++ {
		sec, ok := res.Evaluation.ScriptDeviation.Section(n)
		require.True(t, ok)
		assert.Equal(t, domain.AdherenceNotReached, sec.Adherence)
	}
	_, ok := res.Evaluation.ScriptDeviation.Section(1)
	assert.False(t, ok, "attempted sections are not invented for a failed stage")
}

func TestCommunicationFailureUsesFallback(t *testing.T) {
	fc := newFakeCompleter()
	fc.errs[templates.NameCommunication] = errors.New("boom")
	o := orchestrator.New(readyRegistry(t), fc)

	res, err := o.Evaluate(context.Background(), scenarioRequest())
	require.NoError(t, err)

	assert.True(t, res.IsDegraded(domain.StageCommunication))
	assert.Equal(t, []string{domain.ManualEvaluationMarker}, res.Evaluation.Communication.Summary.Missed)
	assert.Equal(t, 97, res.OverallScore)
}

func TestDeepDiveTriggers(t *testing.T) {
	tests := []struct {
		name           string
		classification string
		wantDeepDive   bool
	}{
		{"clean call", classificationJSON, false},
		{
			"requested by classifier",
			`{"sections_attempted": [1], "call_outcome": "lost", "red_flags": [], "requires_deep_dive": true}`,
			true,
		},
		{
			"red flags present",
			`{"sections_attempted": [1], "call_outcome": "lost", "red_flags": ["Agent was rude", "Hung up"], "requires_deep_dive": false}`,
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := newFakeCompleter()
			fc.responses[templates.NameClassifier] = tt.classification
			o := orchestrator.New(readyRegistry(t), fc)

			res, err := o.Evaluate(context.Background(), scenarioRequest())
			require.NoError(t, err)

			assert.Equal(t, tt.wantDeepDive, res.Evaluation.DeepDive != nil)
			want := 0
			if tt.wantDeepDive {
				want = 1
			}
			assert.Equal(t, want, fc.callCount(templates.NameDeepDive))
		})
	}
}

func TestDeepDiveVariables(t *testing.T) {
	fc := newFakeCompleter()
	fc.responses[templates.NameClassifier] = `{"sections_attempted": [1], "call_outcome": "lost", "red_flags": ["Agent was rude", "Hung up"], "requires_deep_dive": false}`
	o := orchestrator.New(readyRegistry(t), fc)

	_, err := o.Evaluate(context.Background(), scenarioRequest())
	require.NoError(t, err)

	vars := fc.varsFor(templates.NameDeepDive)
	assert.Equal(t, "Agent was rude\nHung up", vars["red_flags"])
	assert.Equal(t, "[]", vars["violations"])
	assert.Contains(t, vars["evaluation_results"], `"classification":`)
	assert.Contains(t, vars["evaluation_results"], `"compliance":`)
}

func TestDeepDiveFailureLeavesItAbsent(t *testing.T) {
	fc := newFakeCompleter()
	fc.responses[templates.NameClassifier] = `{"sections_attempted": [1], "call_outcome": "lost", "red_flags": [], "requires_deep_dive": true}`
	fc.errs[templates.NameDeepDive] = llmerrors.ErrCircuitOpen
	o := orchestrator.New(readyRegistry(t), fc)

	res, err := o.Evaluate(context.Background(), scenarioRequest())
	require.NoError(t, err)

	assert.Nil(t, res.Evaluation.DeepDive)
	assert.True(t, res.IsDegraded(domain.StageDeepDive))
	assert.Equal(t, 96, res.OverallScore)
}

func TestClassificationFailureAborts(t *testing.T) {
	fc := newFakeCompleter()
	fc.errs[templates.NameClassifier] = llmerrors.ErrRetriesExhausted
	obs := &recordingObserver{}
	o := orchestrator.New(readyRegistry(t), fc, orchestrator.WithObserver(obs))

	res, err := o.Evaluate(context.Background(), scenarioRequest())
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, llmerrors.ErrClassificationFailed)
	assert.Equal(t, llmerrors.KindClassificationFailed, llmerrors.KindOf(err))

	for _, name := range []string{templates.NameScriptDeviate, templates.NameCompliance, templates.NameCommunication, templates.NameDeepDive} {
		assert.Zero(t, fc.callCount(name), name)
	}
	assert.Equal(t, []string{string(llmerrors.KindClassificationFailed)}, obs.evaluations)
}

func TestEvaluateNotReady(t *testing.T) {
	reg := templates.NewRegistry(templates.FetcherFunc(func(context.Context, string) (*templates.Template, error) {
		return nil, errors.New("unused")
	}))
	o := orchestrator.New(reg, newFakeCompleter())

	assert.False(t, o.Ready())
	_, err := o.Evaluate(context.Background(), scenarioRequest())
	assert.ErrorIs(t, err, orchestrator.ErrNotReady)
}

func TestPipelineTimeout(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		fc := newFakeCompleter()
		fc.block[templates.NameCommunication] = true
		o := orchestrator.New(readyRegistry(t), fc, orchestrator.WithPipelineTimeout(time.Minute))

		_, err := o.Evaluate(context.Background(), scenarioRequest())
		require.Error(t, err)
		assert.ErrorIs(t, err, orchestrator.ErrPipelineTimeout)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestEvaluateCallerCancellation(t *testing.T) {
	fc := newFakeCompleter()
	fc.block[templates.NameClassifier] = true
	o := orchestrator.New(readyRegistry(t), fc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Evaluate(ctx, scenarioRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, llmerrors.ErrClassificationFailed)
	assert.NotErrorIs(t, err, orchestrator.ErrPipelineTimeout)
}

func TestEvaluateIsIdempotentWithCache(t *testing.T) {
	rc, err := cache.New(configuration.CacheConfig{Enabled: true, TTL: configuration.DefaultCacheTTL}, cache.NewMemoryStore(nil))
	require.NoError(t, err)

	fc := newFakeCompleter()
	obs := &recordingObserver{}
	o := orchestrator.New(readyRegistry(t), fc, orchestrator.WithCache(rc), orchestrator.WithObserver(obs))

	first, err := o.Evaluate(context.Background(), scenarioRequest())
	require.NoError(t, err)
	second, err := o.Evaluate(context.Background(), scenarioRequest())
	require.NoError(t, err)

	assert.Equal(t, first.Evaluation, second.Evaluation)
	assert.Equal(t, first.OverallScore, second.OverallScore)
	assert.Equal(t, first.Summary, second.Summary)
	for _, name := range []string{templates.NameClassifier, templates.NameScriptDeviate, templates.NameCompliance, templates.NameCommunication} {
		assert.Equal(t, 1, fc.callCount(name), name)
	}
	assert.Equal(t, orchestrator.OutcomeCached, obs.stages[domain.StageClassification])
	assert.Equal(t, int64(4), rc.Stats().Hits)
}

func TestSectionRangeNumbers(t *testing.T) {
	assert.Equal(t, []int{3, 4, 5, 6, 7, 8}, orchestrator.ComplianceSections.Numbers())
	assert.Nil(t, orchestrator.SectionRange{First: 5, Last: 4}.Numbers())
}
