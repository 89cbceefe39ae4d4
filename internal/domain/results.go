package domain

import (
	"fmt"
	"slices"
	"strconv"
)

// Shape names identify the closed result records. They appear in cache keys,
// shape descriptors, fallbacks and metrics labels.
const (
	ShapeClassification  = "Classification"
	ShapeScriptAdherence = "ScriptAdherence"
	ShapeCompliance      = "Compliance"
	ShapeCommunication   = "Communication"
	ShapeDeepDive        = "DeepDive"
)

// Result is implemented by every structured model result.
type Result interface {
	ShapeName() string
	Validate() error
}

// Classification is the gate stage output. It decides scope and whether the
// forensic stage runs.
type Classification struct {
	SectionsCompleted         []int                     `json:"sections_completed" validate:"dive,gt=0"`
	SectionsAttempted         []int                     `json:"sections_attempted" validate:"dive,gt=0"`
	CallOutcome               CallOutcome               `json:"call_outcome" validate:"required"`
	ScriptAdherencePreview    map[string]AdherenceLevel `json:"script_adherence_preview"`
	RedFlags                  []string                  `json:"red_flags"`
	RequiresDeepDive          bool                      `json:"requires_deep_dive"`
	EarlyTerminationJustified bool                      `json:"early_termination_justified"`
}

func (*Classification) ShapeName() string { return ShapeClassification }

func (c *Classification) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidResult, err)
	}
	if !c.CallOutcome.Valid() {
		return fmt.Errorf("%w: call_outcome %q", ErrInvalidEnum, c.CallOutcome)
	}
	for k, v := range c.ScriptAdherencePreview {
		if !v.Valid() {
			return fmt.Errorf("%w: script_adherence_preview[%s] %q", ErrInvalidEnum, k, v)
		}
	}
	return nil
}

// SectionEvaluation grades one script section.
type SectionEvaluation struct {
	Adherence          AdherenceLevel    `json:"adherence"`
	ContentAccuracy    PerformanceRating `json:"content_accuracy"`
	SequenceAdherence  PerformanceRating `json:"sequence_adherence"`
	LanguagePhrasing   PerformanceRating `json:"language_phrasing"`
	Customization      PerformanceRating `json:"customization"`
	PositiveDeviations []string          `json:"positive_deviations"`
	NegativeDeviations []string          `json:"negative_deviations"`
	CriticalMisses     []string          `json:"critical_misses"`
	Quote              string            `json:"quote,omitempty"`
}

func (s SectionEvaluation) validate() error {
	if !s.Adherence.Valid() {
		return fmt.Errorf("%w: adherence %q", ErrInvalidEnum, s.Adherence)
	}
	for name, r := range map[string]PerformanceRating{
		"content_accuracy":   s.ContentAccuracy,
		"sequence_adherence": s.SequenceAdherence,
		"language_phrasing":  s.LanguagePhrasing,
		"customization":      s.Customization,
	} {
		if !r.Valid() {
			return fmt.Errorf("%w: %s %q", ErrInvalidEnum, name, r)
		}
	}
	return nil
}

// NotReachedSection is the record for a section the agent never got to.
func NotReachedSection() SectionEvaluation {
	return SectionEvaluation{
		Adherence:         AdherenceNotReached,
		ContentAccuracy:   RatingNotApplicable,
		SequenceAdherence: RatingNotApplicable,
		LanguagePhrasing:  RatingNotApplicable,
		Customization:     RatingNotApplicable,
	}
}

// ScriptAdherence grades the script section by section. Keys are section
// numbers in decimal.
type ScriptAdherence struct {
	Sections map[string]SectionEvaluation `json:"sections"`
}

func (*ScriptAdherence) ShapeName() string { return ShapeScriptAdherence }

func (s *ScriptAdherence) Validate() error {
	for key, sec := range s.Sections {
		n, err := strconv.Atoi(key)
		if err != nil || n <= 0 {
			return fmt.Errorf("%w: section key %q is not a positive number", ErrInvalidResult, key)
		}
		if err := sec.validate(); err != nil {
			return fmt.Errorf("section %s: %w", key, err)
		}
	}
	return nil
}

// SectionNumbers returns the graded section numbers in ascending order.
func (s *ScriptAdherence) SectionNumbers() []int {
	nums := make([]int, 0, len(s.Sections))
	for key := range s.Sections {
		if n, err := strconv.Atoi(key); err == nil {
			nums = append(nums, n)
		}
	}
	slices.Sort(nums)
	return nums
}

// Section returns the evaluation for section n.
func (s *ScriptAdherence) Section(n int) (SectionEvaluation, bool) {
	sec, ok := s.Sections[strconv.Itoa(n)]
	return sec, ok
}

// ScopeTo forces every section outside attempted to Not Reached, clearing
// negative deviations and critical misses, and fills in any missing section
// in 1..totalSections the same way. Sections the agent never reached are
// therefore never penalized regardless of what the model returned.
func (s *ScriptAdherence) ScopeTo(attempted []int, totalSections int) {
	if s.Sections == nil {
		s.Sections = make(map[string]SectionEvaluation)
	}
	for key, sec := range s.Sections {
		n, err := strconv.Atoi(key)
		if err != nil || slices.Contains(attempted, n) {
			continue
		}
		sec.Adherence = AdherenceNotReached
		sec.NegativeDeviations = nil
		sec.CriticalMisses = nil
		s.Sections[key] = sec
	}
	for n := 1; n <= totalSections; n++ {
		if slices.Contains(attempted, n) {
			continue
		}
		if _, ok := s.Sections[strconv.Itoa(n)]; !ok {
			s.Sections[strconv.Itoa(n)] = NotReachedSection()
		}
	}
}

// ComplianceItem is one checklist line.
type ComplianceItem struct {
	Name    string           `json:"name" validate:"required"`
	Status  ComplianceStatus `json:"status" validate:"required"`
	Details string           `json:"details,omitempty"`
}

// ComplianceSummary buckets item names by status.
type ComplianceSummary struct {
	NoInfraction   []string `json:"no_infraction"`
	CoachingNeeded []string `json:"coaching_needed"`
	Violations     []string `json:"violations"`
	NotApplicable  []string `json:"not_applicable"`
}

// Compliance is the checklist evaluation for the in-scope sections.
type Compliance struct {
	Items   []ComplianceItem  `json:"items" validate:"dive"`
	Summary ComplianceSummary `json:"summary"`
}

func (*Compliance) ShapeName() string { return ShapeCompliance }

func (c *Compliance) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidResult, err)
	}
	status := make(map[string]ComplianceStatus, len(c.Items))
	for _, it := range c.Items {
		if !it.Status.Valid() {
			return fmt.Errorf("%w: item %q status %q", ErrInvalidEnum, it.Name, it.Status)
		}
		status[it.Name] = it.Status
	}
	buckets := []struct {
		names []string
		want  ComplianceStatus
	}{
		{c.Summary.NoInfraction, ComplianceNoInfraction},
		{c.Summary.CoachingNeeded, ComplianceCoachingNeeded},
		{c.Summary.Violations, ComplianceViolation},
		{c.Summary.NotApplicable, ComplianceNotApplicable},
	}
	for _, b := range buckets {
		for _, name := range b.names {
			if got, ok := status[name]; !ok || got != b.want {
				return fmt.Errorf("%w: %q listed as %s", ErrInconsistentSummary, name, b.want)
			}
		}
	}
	return nil
}

// CommunicationSkill is one graded soft skill.
type CommunicationSkill struct {
	Skill   string            `json:"skill" validate:"required"`
	Rating  PerformanceRating `json:"rating" validate:"required"`
	Example string            `json:"example,omitempty"`
}

// CommunicationSummary buckets skill names by rating.
type CommunicationSummary struct {
	Exceeded []string `json:"exceeded"`
	Met      []string `json:"met"`
	Missed   []string `json:"missed"`
}

// Communication grades the whole transcript's soft skills.
type Communication struct {
	Skills  []CommunicationSkill `json:"skills" validate:"dive"`
	Summary CommunicationSummary `json:"summary"`
}

func (*Communication) ShapeName() string { return ShapeCommunication }

func (c *Communication) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidResult, err)
	}
	rating := make(map[string]PerformanceRating, len(c.Skills))
	for _, s := range c.Skills {
		if !s.Rating.Valid() {
			return fmt.Errorf("%w: skill %q rating %q", ErrInvalidEnum, s.Skill, s.Rating)
		}
		rating[s.Skill] = s.Rating
	}
	buckets := []struct {
		names []string
		want  PerformanceRating
	}{
		{c.Summary.Exceeded, RatingExceeded},
		{c.Summary.Met, RatingMet},
		{c.Summary.Missed, RatingMissed},
	}
	for _, b := range buckets {
		for _, name := range b.names {
			if got, ok := rating[name]; !ok || got != b.want {
				return fmt.Errorf("%w: %q listed as %s", ErrInconsistentSummary, name, b.want)
			}
		}
	}
	return nil
}

// Finding is one forensic observation.
type Finding struct {
	Issue          string   `json:"issue" validate:"required"`
	Severity       Severity `json:"severity" validate:"required"`
	Evidence       string   `json:"evidence"`
	Recommendation string   `json:"recommendation"`
}

// DeepDive is the conditional forensic analysis.
type DeepDive struct {
	Findings       []Finding `json:"findings" validate:"dive"`
	RootCause      string    `json:"root_cause" validate:"required"`
	CustomerImpact Severity  `json:"customer_impact" validate:"required"`
	UrgentActions  []string  `json:"urgent_actions"`
}

func (*DeepDive) ShapeName() string { return ShapeDeepDive }

func (d *DeepDive) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidResult, err)
	}
	if !d.CustomerImpact.Valid() {
		return fmt.Errorf("%w: customer_impact %q", ErrInvalidEnum, d.CustomerImpact)
	}
	for _, f := range d.Findings {
		if !f.Severity.Valid() {
			return fmt.Errorf("%w: finding %q severity %q", ErrInvalidEnum, f.Issue, f.Severity)
		}
	}
	return nil
}
