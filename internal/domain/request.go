package domain

import (
	"fmt"
	"slices"
	"time"
)

// MinTalkTimeSeconds is the shortest talk time worth evaluating. Shorter
// calls are skipped before any model call is made.
const MinTalkTimeSeconds = 60

// EvaluationRequest identifies one call and carries everything the pipeline
// reads. It is validated once at the boundary and treated as read-only
// afterward.
type EvaluationRequest struct {
	CallID      string         `json:"call_id" validate:"required"`
	AgentID     string         `json:"agent_id" validate:"required"`
	CallContext CallContext    `json:"call_context" validate:"required,oneof=first_call follow_up"`
	Transcript  TranscriptData `json:"transcript" validate:"required"`
	IdealScript string         `json:"ideal_script" validate:"required"`
	ClientData  ClientData     `json:"client_data" validate:"required"`
}

// TranscriptData is the call transcript and its metadata.
type TranscriptData struct {
	Text     string             `json:"transcript" validate:"required"`
	Metadata TranscriptMetadata `json:"metadata" validate:"required"`
}

// TranscriptMetadata describes the recording.
type TranscriptMetadata struct {
	Duration     int       `json:"duration" validate:"gt=0"`
	Timestamp    time.Time `json:"timestamp" validate:"required"`
	TalkTime     *int      `json:"talk_time,omitempty" validate:"omitempty,gt=0"`
	Disposition  string    `json:"disposition" validate:"required"`
	CampaignName string    `json:"campaign_name,omitempty"`
}

// ClientData aggregates lead information and script progress.
type ClientData struct {
	LeadID           string            `json:"lead_id,omitempty"`
	CampaignID       *int              `json:"campaign_id,omitempty"`
	ScriptProgress   ScriptProgress    `json:"script_progress" validate:"required"`
	FinancialProfile *FinancialProfile `json:"financial_profile,omitempty"`
}

// ScriptProgress records how far through the script the agent got. It
// decides which sections are in scope for script evaluation.
type ScriptProgress struct {
	SectionsAttempted    []int             `json:"sections_attempted" validate:"required,min=1,unique,dive,gt=0"`
	LastCompletedSection int               `json:"last_completed_section" validate:"gte=0"`
	TerminationReason    TerminationReason `json:"termination_reason" validate:"required"`
	PitchOutcome         string            `json:"pitch_outcome,omitempty"`
}

// FinancialProfile is optional client financial context.
type FinancialProfile struct {
	AnnualIncome       *float64           `json:"annual_income,omitempty" validate:"omitempty,gt=0"`
	DTIRatio           *float64           `json:"dti_ratio,omitempty" validate:"omitempty,gte=0,lte=1"`
	LoanApprovalStatus LoanApprovalStatus `json:"loan_approval_status,omitempty" validate:"omitempty,oneof=approved denied pending"`
	HasExistingDebt    *bool              `json:"has_existing_debt,omitempty"`
}

// Validate checks struct tags and the cross-field rule that the last
// completed section cannot lie beyond the furthest attempted one.
func (r *EvaluationRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	sp := r.ClientData.ScriptProgress
	if maxAttempted := slices.Max(sp.SectionsAttempted); sp.LastCompletedSection > maxAttempted {
		return fmt.Errorf("%w: last_completed_section %d exceeds furthest attempted section %d",
			ErrInvalidRequest, sp.LastCompletedSection, maxAttempted)
	}
	return nil
}

// ShouldSkip reports whether the call is too short to evaluate. A missing
// talk time never skips.
func (r *EvaluationRequest) ShouldSkip() (skip bool, talkTime int) {
	tt := r.Transcript.Metadata.TalkTime
	if tt == nil {
		return false, 0
	}
	return *tt < MinTalkTimeSeconds, *tt
}

// AttemptedSections returns the attempted sections in ascending order.
func (p ScriptProgress) AttemptedSections() []int {
	out := slices.Clone(p.SectionsAttempted)
	slices.Sort(out)
	return out
}

// InScope reports whether section was attempted.
func (p ScriptProgress) InScope(section int) bool {
	return slices.Contains(p.SectionsAttempted, section)
}
