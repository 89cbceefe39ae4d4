// Package analysis holds the deterministic call heuristics that sit beside
// the model stages: regulatory context for the compliance prompt, call pace,
// compliance risk and the deep-dive severity score.
package analysis

import (
	"github.com/ahrav/go-callqa/internal/domain"
)

// Risk levels.
const (
	RiskStandard = "standard"
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
)

// Regulations and special requirements named in the regulatory context.
const (
	RegulationTCPA             = "TCPA"
	RegulationInternalPolicies = "Internal Policies"
	RegulationCFPB             = "CFPB"
	RegulationState            = "State Regulations"

	RequirementEnhancedDisclosure = "enhanced_disclosure"
	RequirementAdverseAction      = "adverse_action_notice"
	RequirementPrivacyProtection  = "enhanced_privacy_protection"
	RequirementConsentVerify      = "previous_consent_verification"
)

const (
	highDTIThreshold        = 0.4
	riskDTIThreshold        = 0.5
	highIncomeThreshold     = 100_000
	highRiskFactorThreshold = 3
)

// RegulatoryContext lists the rules a call is subject to. Any financial
// discussion brings in CFPB; a DTI ratio above 0.4 raises the risk level and
// requires enhanced disclosure; a denied loan requires an adverse action
// notice; a known approval status brings in state lending rules.
func RegulatoryContext(req *domain.EvaluationRequest) domain.RegulatoryContext {
	rc := domain.RegulatoryContext{
		RiskLevel:             RiskStandard,
		ApplicableRegulations: []string{RegulationTCPA, RegulationInternalPolicies},
		SpecialRequirements:   []string{},
	}

	if fp := req.ClientData.FinancialProfile; fp != nil {
		rc.ApplicableRegulations = append(rc.ApplicableRegulations, RegulationCFPB)
		if fp.DTIRatio != nil && *fp.DTIRatio > highDTIThreshold {
			rc.RiskLevel = RiskHigh
			rc.SpecialRequirements = append(rc.SpecialRequirements, RequirementEnhancedDisclosure)
		}
		if fp.LoanApprovalStatus == domain.LoanDenied {
			rc.SpecialRequirements = append(rc.SpecialRequirements, RequirementAdverseAction)
		}
		if fp.AnnualIncome != nil && *fp.AnnualIncome > highIncomeThreshold {
			rc.SpecialRequirements = append(rc.SpecialRequirements, RequirementPrivacyProtection)
		}
		if fp.LoanApprovalStatus != "" {
			rc.ApplicableRegulations = append(rc.ApplicableRegulations, RegulationState)
		}
	}

	if req.CallContext == domain.CallContextFollowUp {
		rc.SpecialRequirements = append(rc.SpecialRequirements, RequirementConsentVerify)
	}
	return rc
}

// ComplianceRisk scores financial and conduct risk factors: DTI above 0.5
// counts two, a denied loan one, existing debt one, an agent error two and a
// disinterested customer one. Three or more is high, one or more medium.
func ComplianceRisk(req *domain.EvaluationRequest) string {
	factors := 0
	if fp := req.ClientData.FinancialProfile; fp != nil {
		if fp.DTIRatio != nil && *fp.DTIRatio > riskDTIThreshold {
			factors += 2
		}
		if fp.LoanApprovalStatus == domain.LoanDenied {
			factors++
		}
		if fp.HasExistingDebt != nil && *fp.HasExistingDebt {
			factors++
		}
	}

	switch req.ClientData.ScriptProgress.TerminationReason {
	case domain.TerminationAgentError:
		factors += 2
	case domain.TerminationNotInterested:
		factors++
	}

	switch {
	case factors >= highRiskFactorThreshold:
		return RiskHigh
	case factors >= 1:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Insights computes every heuristic for a finished evaluation.
func Insights(req *domain.EvaluationRequest, eval *domain.Evaluation) domain.Insights {
	attempted := len(req.ClientData.ScriptProgress.SectionsAttempted)
	return domain.Insights{
		CallPace:          AssessCallPace(req.Transcript.Metadata.Duration, attempted),
		ExpectedDuration:  ExpectedDuration(attempted),
		ComplianceRisk:    ComplianceRisk(req),
		DeepDiveSeverity:  DeepDiveSeverity(&eval.Classification, &eval.Compliance),
		RegulatoryContext: RegulatoryContext(req),
	}
}
