package analysis

import (
	"github.com/ahrav/go-callqa/internal/domain"
)

// HighPriorityThreshold is the severity score at which a deep dive is
// treated as high priority.
const HighPriorityThreshold = 3

const (
	maxRedFlagPoints  = 3
	maxCoachingPoints = 2.0
	coachingWeight    = 0.5
	maxScriptPoints   = 2
)

// DeepDiveSeverity scores how much a call needs forensic attention. Red
// flags count one each up to three, coaching items half a point each up to
// two, low previews one each up to two. A lost call adds one and an
// unjustified incomplete call two. Issues in two or more categories add one.
// The total is truncated to an integer.
func DeepDiveSeverity(c *domain.Classification, comp *domain.Compliance) int {
	lowPreviews := 0
	for _, v := range c.ScriptAdherencePreview {
		if v == domain.AdherenceLow {
			lowPreviews++
		}
	}
	coaching := len(comp.Summary.CoachingNeeded)

	score := float64(min(len(c.RedFlags), maxRedFlagPoints))
	score += min(float64(coaching)*coachingWeight, maxCoachingPoints)
	score += float64(min(lowPreviews, maxScriptPoints))

	switch {
	case c.CallOutcome == domain.OutcomeLost:
		score++
	case c.CallOutcome == domain.OutcomeIncomplete && !c.EarlyTerminationJustified:
		score += 2
	}

	categories := 0
	for _, present := range []bool{len(c.RedFlags) > 0, coaching > 0, lowPreviews > 0} {
		if present {
			categories++
		}
	}
	if categories >= 2 {
		score++
	}
	return int(score)
}

// IsHighPriority reports whether a severity score warrants urgent review.
func IsHighPriority(score int) bool {
	return score >= HighPriorityThreshold
}

// RequiresDeepDive is the forensic gate: the classifier asked for it, or
// compliance found violations, or the classifier raised red flags.
func RequiresDeepDive(c *domain.Classification, comp *domain.Compliance) bool {
	return c.RequiresDeepDive || len(comp.Summary.Violations) > 0 || len(c.RedFlags) > 0
}
