// Package scoring turns stage results into the overall score and the
// coaching summary. Everything here is pure and deterministic: identical
// inputs always produce identical outputs.
package scoring

import (
	"fmt"

	"github.com/ahrav/go-callqa/internal/domain"
)

// Score weights.
const (
	BaseScore          = 100
	ViolationPenalty   = 15
	CoachingPenalty    = 5
	MissedSkillPenalty = 3
	ExceededSkillBonus = 2

	MinScore = 1
	MaxScore = 100
)

// Summary limits.
const (
	MaxStrengthSkills       = 2
	MaxWellExecutedSections = 1
	MaxCoachingItems        = 2
	MaxMissedSkills         = 2
	MaxSummaryEntries       = 3
)

// Breakdown exposes the counts behind a score.
type Breakdown struct {
	Violations     int `json:"violations"`
	CoachingNeeded int `json:"coaching_needed"`
	MissedSkills   int `json:"missed_skills"`
	ExceededSkills int `json:"exceeded_skills"`
	Raw            int `json:"raw"`
	Score          int `json:"score"`
}

// Explain computes the score together with its inputs.
func Explain(e *domain.Evaluation) Breakdown {
	b := Breakdown{
		Violations:     len(e.Compliance.Summary.Violations),
		CoachingNeeded: len(e.Compliance.Summary.CoachingNeeded),
		MissedSkills:   len(e.Communication.Summary.Missed),
		ExceededSkills: len(e.Communication.Summary.Exceeded),
	}
	b.Raw = BaseScore -
		ViolationPenalty*b.Violations -
		CoachingPenalty*b.CoachingNeeded -
		MissedSkillPenalty*b.MissedSkills +
		ExceededSkillBonus*b.ExceededSkills
	b.Score = min(max(b.Raw, MinScore), MaxScore)
	return b
}

// Score returns the overall score in [MinScore, MaxScore].
func Score(e *domain.Evaluation) int {
	return Explain(e).Score
}

// Summarize builds the coaching digest.
//
// Strengths hold up to two exceeded skills and a note for the first section
// rated High. Areas for improvement hold up to two coaching items, up to two
// missed skills and then critical script misses, three entries at most.
// Critical issues are the compliance violations, three at most.
func Summarize(e *domain.Evaluation) domain.Summary {
	strengths := make([]string, 0, MaxStrengthSkills+MaxWellExecutedSections)
	strengths = append(strengths, head(e.Communication.Summary.Exceeded, MaxStrengthSkills)...)
	if note, ok := wellExecutedNote(&e.ScriptDeviation); ok {
		strengths = append(strengths, note)
	}

	areas := make([]string, 0, MaxSummaryEntries)
	areas = append(areas, head(e.Compliance.Summary.CoachingNeeded, MaxCoachingItems)...)
	areas = append(areas, head(e.Communication.Summary.Missed, MaxMissedSkills)...)
	areas = append(areas, criticalMisses(&e.ScriptDeviation)...)
	areas = head(areas, MaxSummaryEntries)

	critical := head(e.Compliance.Summary.Violations, MaxSummaryEntries)

	return domain.Summary{
		Strengths:           strengths,
		AreasForImprovement: areas,
		CriticalIssues:      append([]string{}, critical...),
	}
}

// Aggregate returns the score and summary for e.
func Aggregate(e *domain.Evaluation) (int, domain.Summary) {
	return Score(e), Summarize(e)
}

func wellExecutedNote(s *domain.ScriptAdherence) (string, bool) {
	for _, n := range s.SectionNumbers() {
		if sec, _ := s.Section(n); sec.Adherence == domain.AdherenceHigh {
			return fmt.Sprintf("Section %d executed well", n), true
		}
	}
	return "", false
}

func criticalMisses(s *domain.ScriptAdherence) []string {
	var out []string
	for _, n := range s.SectionNumbers() {
		sec, _ := s.Section(n)
		if sec.Adherence == domain.AdherenceNotReached {
			continue
		}
		for _, miss := range sec.CriticalMisses {
			out = append(out, fmt.Sprintf("Section %d: %s", n, miss))
		}
	}
	return out
}

func head(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
