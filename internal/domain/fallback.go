package domain

import "fmt"

// Markers placed in fallback values so a degraded stage is visible in the
// report itself.
const (
	ManualReviewMarker       = "Manual review required due to evaluation failure"
	ManualEvaluationMarker   = "Manual evaluation required due to system failure"
	ClassificationFailedFlag = "Evaluation failed - manual review required"
)

// FallbackFor returns the predefined value used when a stage could not be
// evaluated. The classification entry exists for completeness; the pipeline
// treats classification as fatal and never substitutes it.
func FallbackFor(shape string) (Result, error) {
	switch shape {
	case ShapeClassification:
		return &Classification{
			CallOutcome:            OutcomeIncomplete,
			ScriptAdherencePreview: map[string]AdherenceLevel{},
			RedFlags:               []string{ClassificationFailedFlag},
			RequiresDeepDive:       true,
		}, nil
	case ShapeScriptAdherence:
		return &ScriptAdherence{Sections: map[string]SectionEvaluation{}}, nil
	case ShapeCompliance:
		return &Compliance{
			Items:   []ComplianceItem{{Name: ManualReviewMarker, Status: ComplianceViolation}},
			Summary: ComplianceSummary{Violations: []string{ManualReviewMarker}},
		}, nil
	case ShapeCommunication:
		return &Communication{
			Skills:  []CommunicationSkill{{Skill: ManualEvaluationMarker, Rating: RatingMissed}},
			Summary: CommunicationSummary{Missed: []string{ManualEvaluationMarker}},
		}, nil
	}
	return nil, fmt.Errorf("%w: no fallback for %s", ErrUnknownShape, shape)
}
