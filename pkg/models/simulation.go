package models

// PredictedOutcome is the aggregate forecast of a simulated run.
type PredictedOutcome string

const (
	OutcomeSuccess PredictedOutcome = "SUCCESS"
	OutcomePartial PredictedOutcome = "PARTIAL"
	OutcomeFailure PredictedOutcome = "FAILURE"
)

// RiskLevel buckets a numeric risk score for display.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskLevelForScore maps a 1–10 risk score onto a level.
func RiskLevelForScore(score int) RiskLevel {
	switch {
	case score >= 9:
		return RiskCritical
	case score >= 7:
		return RiskHigh
	case score >= 4:
		return RiskMedium
	default:
		return RiskLow
	}
}

// ImpactAssessment estimates the blast radius of one action.
type ImpactAssessment struct {
	RiskScore     int      `json:"risk_score"`
	RiskLevel     RiskLevel `json:"risk_level"`
	AffectedHosts []string `json:"affected_hosts,omitempty"`
	AffectedUsers []string `json:"affected_users,omitempty"`
	AffectedServices []string `json:"affected_services,omitempty"`
	Reversible    bool     `json:"reversible"`
	Description   string   `json:"description,omitempty"`
}

// SimulatedStep is the per-step record inside a SimulationReport.
type SimulatedStep struct {
	StepID            string           `json:"step_id"`
	StepName          string           `json:"step_name"`
	Action            string           `json:"action"`
	Executor          string           `json:"executor"`
	PredictedResult   map[string]any   `json:"predicted_result,omitempty"`
	Confidence        float64          `json:"confidence"`
	ValidationsPassed bool             `json:"validations_passed"`
	SideEffects       []string         `json:"side_effects,omitempty"`
	Impact            ImpactAssessment `json:"impact"`
	Error             *StepError       `json:"error,omitempty"`
}

// RollbackPlan summarizes how a simulated run could be undone.
type RollbackPlan struct {
	// Available is true iff every write step declares a rollback.
	Available bool `json:"available"`

	// Coverage is steps-with-rollback divided by write-steps, 1.0 when the
	// runbook has no write steps.
	Coverage float64 `json:"coverage"`

	Steps []RollbackPlanStep `json:"steps,omitempty"`
}

// RollbackPlanStep is one entry of a rollback plan, in reverse step order.
type RollbackPlanStep struct {
	StepID   string `json:"step_id"`
	Action   string `json:"action"`
	Executor string `json:"executor"`
}

// SimulationReport is the full no-side-effect preview of a run, shown to
// approvers before an L2 write action is released.
type SimulationReport struct {
	SimulationID      string           `json:"simulation_id"`
	RunbookID         string           `json:"runbook_id"`
	Steps             []SimulatedStep  `json:"steps"`
	PredictedOutcome  PredictedOutcome `json:"predicted_outcome"`
	OverallConfidence float64          `json:"overall_confidence"`
	OverallRiskScore  int              `json:"overall_risk_score"`
	OverallRiskLevel  RiskLevel        `json:"overall_risk_level"`
	RisksIdentified   []string         `json:"risks_identified,omitempty"`
	AffectedAssets    []string         `json:"affected_assets,omitempty"`
	RollbackPlan      RollbackPlan     `json:"rollback_plan"`
}
