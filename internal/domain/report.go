package domain

import "time"

// Stage names used in degradation markers, logs and metrics.
const (
	StageClassification  = "classification"
	StageScriptAdherence = "script_adherence"
	StageCompliance      = "compliance"
	StageCommunication   = "communication"
	StageDeepDive        = "deep_dive"
)

// Evaluation groups the structured stage results. DeepDive is nil when the
// gate did not trigger or the forensic call failed.
type Evaluation struct {
	Classification  Classification  `json:"classification"`
	ScriptDeviation ScriptAdherence `json:"script_deviation"`
	Compliance      Compliance      `json:"compliance"`
	Communication   Communication   `json:"communication"`
	DeepDive        *DeepDive       `json:"deep_dive,omitempty"`
}

// Summary is the coaching digest derived from an Evaluation.
type Summary struct {
	Strengths           []string `json:"strengths"`
	AreasForImprovement []string `json:"areas_for_improvement"`
	CriticalIssues      []string `json:"critical_issues"`
}

// Degradation records a stage that used its fallback value or was dropped.
type Degradation struct {
	Stage  string `json:"stage"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// Insights carries deterministic call analysis computed from the request
// and the stage results.
type Insights struct {
	CallPace          string            `json:"call_pace"`
	ExpectedDuration  int               `json:"expected_duration_seconds"`
	ComplianceRisk    string            `json:"compliance_risk"`
	DeepDiveSeverity  int               `json:"deep_dive_severity"`
	RegulatoryContext RegulatoryContext `json:"regulatory_context"`
}

// RegulatoryContext lists the regulations and special handling a call is
// subject to.
type RegulatoryContext struct {
	RiskLevel             string   `json:"risk_level"`
	ApplicableRegulations []string `json:"applicable_regulations"`
	SpecialRequirements   []string `json:"special_requirements"`
}

// EvaluationResult is the immutable outcome of one evaluation.
type EvaluationResult struct {
	CallID         string        `json:"call_id"`
	AgentID        string        `json:"agent_id"`
	CorrelationID  string        `json:"correlation_id"`
	Evaluation     Evaluation    `json:"evaluation"`
	OverallScore   int           `json:"overall_score"`
	Summary        Summary       `json:"summary"`
	Degraded       []Degradation `json:"degraded,omitempty"`
	Insights       Insights      `json:"insights"`
	ProcessingTime time.Duration `json:"processing_time"`
	EvaluatedAt    time.Time     `json:"evaluated_at"`
}

// IsDegraded reports whether stage has a degradation marker.
func (r *EvaluationResult) IsDegraded(stage string) bool {
	for _, d := range r.Degraded {
		if d.Stage == stage {
			return true
		}
	}
	return false
}
