package domain

import (
	"fmt"
	"slices"
	"strings"
)

// parseEnum matches s against allowed case-insensitively and returns the
// canonical spelling. Model output frequently varies in case; anything
// outside the closed set is rejected.
func parseEnum[T ~string](kind, s string, allowed []T) (T, error) {
	trimmed := strings.TrimSpace(s)
	for _, a := range allowed {
		if strings.EqualFold(trimmed, string(a)) {
			return a, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("%w: %s %q", ErrInvalidEnum, kind, s)
}

// CallContext identifies whether the call is the first contact or a follow-up.
type CallContext string

const (
	CallContextFirstCall CallContext = "first_call"
	CallContextFollowUp  CallContext = "follow_up"
)

var callContexts = []CallContext{CallContextFirstCall, CallContextFollowUp}

// UnmarshalText accepts the canonical values and the display labels
// "First Call" and "Follow-up Call".
func (c *CallContext) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "first call":
		*c = CallContextFirstCall
		return nil
	case "follow-up call", "follow up call":
		*c = CallContextFollowUp
		return nil
	}
	v, err := parseEnum("call_context", string(b), callContexts)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// AdherenceLevel grades how closely a script section was followed.
type AdherenceLevel string

const (
	AdherenceHigh       AdherenceLevel = "High"
	AdherenceMedium     AdherenceLevel = "Medium"
	AdherenceLow        AdherenceLevel = "Low"
	AdherenceNotReached AdherenceLevel = "Not Reached"
)

// AdherenceLevels lists the closed domain in descending order.
var AdherenceLevels = []AdherenceLevel{AdherenceHigh, AdherenceMedium, AdherenceLow, AdherenceNotReached}

func (a *AdherenceLevel) UnmarshalText(b []byte) error {
	v, err := parseEnum("adherence", string(b), AdherenceLevels)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Valid reports whether a is a member of the closed domain.
func (a AdherenceLevel) Valid() bool { return slices.Contains(AdherenceLevels, a) }

// PerformanceRating grades a skill or a section dimension.
type PerformanceRating string

const (
	RatingExceeded      PerformanceRating = "Exceeded"
	RatingMet           PerformanceRating = "Met"
	RatingMissed        PerformanceRating = "Missed"
	RatingNotApplicable PerformanceRating = "N/A"
)

var PerformanceRatings = []PerformanceRating{RatingExceeded, RatingMet, RatingMissed, RatingNotApplicable}

func (r *PerformanceRating) UnmarshalText(b []byte) error {
	v, err := parseEnum("rating", string(b), PerformanceRatings)
	if err != nil {
		return err
	}
	*r = v
	return nil
}

func (r PerformanceRating) Valid() bool { return slices.Contains(PerformanceRatings, r) }

// ComplianceStatus is the outcome for one compliance checklist item.
type ComplianceStatus string

const (
	ComplianceNoInfraction   ComplianceStatus = "No Infraction"
	ComplianceCoachingNeeded ComplianceStatus = "Coaching Needed"
	ComplianceViolation      ComplianceStatus = "Violation"
	ComplianceNotApplicable  ComplianceStatus = "N/A"
)

var ComplianceStatuses = []ComplianceStatus{
	ComplianceNoInfraction, ComplianceCoachingNeeded, ComplianceViolation, ComplianceNotApplicable,
}

func (s *ComplianceStatus) UnmarshalText(b []byte) error {
	v, err := parseEnum("compliance_status", string(b), ComplianceStatuses)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s ComplianceStatus) Valid() bool { return slices.Contains(ComplianceStatuses, s) }

// CallOutcome is the classifier's view of how the call ended.
type CallOutcome string

const (
	OutcomeCompleted  CallOutcome = "completed"
	OutcomeScheduled  CallOutcome = "scheduled"
	OutcomeIncomplete CallOutcome = "incomplete"
	OutcomeLost       CallOutcome = "lost"
)

var CallOutcomes = []CallOutcome{OutcomeCompleted, OutcomeScheduled, OutcomeIncomplete, OutcomeLost}

func (o *CallOutcome) UnmarshalText(b []byte) error {
	v, err := parseEnum("call_outcome", string(b), CallOutcomes)
	if err != nil {
		return err
	}
	*o = v
	return nil
}

func (o CallOutcome) Valid() bool { return slices.Contains(CallOutcomes, o) }

// Severity grades deep-dive findings and customer impact.
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
	SeverityLow      Severity = "Low"
)

var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

func (s *Severity) UnmarshalText(b []byte) error {
	v, err := parseEnum("severity", string(b), Severities)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s Severity) Valid() bool { return slices.Contains(Severities, s) }

// TerminationReason records why the call ended. The standard reasons are
// listed below; other values are accepted so callers can describe unusual
// endings, and IsStandard lets the boundary log them.
type TerminationReason string

const (
	TerminationLoanApproved      TerminationReason = "loan_approved"
	TerminationLoanDenied        TerminationReason = "loan_denied"
	TerminationNotInterested     TerminationReason = "not_interested"
	TerminationCallbackScheduled TerminationReason = "callback_scheduled"
	TerminationAgentError        TerminationReason = "agent_error"
	TerminationCompleted         TerminationReason = "completed"
)

var standardTerminationReasons = []TerminationReason{
	TerminationLoanApproved, TerminationLoanDenied, TerminationNotInterested,
	TerminationCallbackScheduled, TerminationAgentError, TerminationCompleted,
}

// IsStandard reports whether r is one of the predefined reasons.
func (r TerminationReason) IsStandard() bool { return slices.Contains(standardTerminationReasons, r) }

// LoanApprovalStatus is the lender decision attached to the financial profile.
type LoanApprovalStatus string

const (
	LoanApproved LoanApprovalStatus = "approved"
	LoanDenied   LoanApprovalStatus = "denied"
	LoanPending  LoanApprovalStatus = "pending"
)

var loanApprovalStatuses = []LoanApprovalStatus{LoanApproved, LoanDenied, LoanPending}

func (s *LoanApprovalStatus) UnmarshalText(b []byte) error {
	v, err := parseEnum("loan_approval_status", string(b), loanApprovalStatuses)
	if err != nil {
		return err
	}
	*s = v
	return nil
}
