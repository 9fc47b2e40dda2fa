// Package simulation produces no-side-effect previews of runbook write
// actions: per-step predictions, blast radius, aggregate risk, and a
// rollback plan, packaged as the SimulationReport approvers review.
package simulation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/opsgate/opsgate/pkg/actions"
	"github.com/opsgate/opsgate/pkg/adapter"
	"github.com/opsgate/opsgate/pkg/engine"
	"github.com/opsgate/opsgate/pkg/models"
	"github.com/opsgate/opsgate/pkg/template"
)

// actionRisk scores each write action 1-10. Read actions score 1.
var actionRisk = map[string]int{
	actions.ActionIsolateHost:         7,
	actions.ActionRestoreConnectivity: 4,
	actions.ActionBlockIP:             5,
	actions.ActionUnblockIP:           4,
	actions.ActionBlockDomain:         5,
	actions.ActionDisableAccount:      6,
	actions.ActionEnableAccount:       4,
	actions.ActionResetPassword:       5,
	actions.ActionRevokeSessions:      5,
	actions.ActionQuarantineFile:      6,
	actions.ActionRestoreFile:         4,
	actions.ActionKillProcess:         7,
	actions.ActionStartEDRScan:        3,
	actions.ActionRemovePersistence:   8,
	actions.ActionUpdateFirewallRule:  6,
	actions.ActionCreateTicket:        2,
	actions.ActionUpdateTicket:        2,
	actions.ActionCloseTicket:         2,
	actions.ActionNotifyEmail:         2,
	actions.ActionNotifySlack:         2,
	actions.ActionNotifyPagerDuty:     2,
	actions.ActionEscalateIncident:    3,
	actions.ActionAddToWatchlist:      2,
}

// irreversibleActions cannot be compensated once executed.
var irreversibleActions = map[string]struct{}{
	actions.ActionKillProcess:       {},
	actions.ActionRemovePersistence: {},
	actions.ActionResetPassword:     {},
	actions.ActionRevokeSessions:    {},
}

// riskForAction returns the static score for an action, 1 for reads and
// unknown symbols.
func riskForAction(action string) int {
	if score, ok := actionRisk[action]; ok {
		return score
	}
	return 1
}

// defaultStepConfidence applies when the adapter does not report its own.
const defaultStepConfidence = 0.9

// Engine runs simulations through registered adapters in simulation mode.
type Engine struct {
	registry *adapter.Registry
	logger   *slog.Logger

	newID func() string
}

// NewEngine creates a simulation engine on the given registry.
func NewEngine(registry *adapter.Registry, logger *slog.Logger) *Engine {
	return &Engine{
		registry: registry,
		logger:   logger.With("component", "simulation"),
		newID:    func() string { return uuid.New().String() },
	}
}

// Simulate previews the given steps against the current template context
// and aggregates the result. Adapters are invoked in simulation mode only;
// no mutating endpoint is ever called.
func (e *Engine) Simulate(ctx context.Context, rb *models.Runbook, steps []models.Step, tctx *template.Context) (*models.SimulationReport, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("simulate: no steps given")
	}

	report := &models.SimulationReport{
		SimulationID: e.newID(),
		RunbookID:    rb.ID,
		Steps:        make([]models.SimulatedStep, 0, len(steps)),
	}

	confidence := 1.0
	maxRisk := 1
	writeFailed := false
	allPassed := true
	assets := map[string]struct{}{}

	for _, step := range steps {
		sim := e.simulateStep(ctx, step, tctx)
		report.Steps = append(report.Steps, sim)

		confidence *= sim.Confidence
		if sim.Impact.RiskScore > maxRisk {
			maxRisk = sim.Impact.RiskScore
		}
		if !sim.ValidationsPassed {
			allPassed = false
		}
		if sim.Error != nil && actions.IsWrite(step.Action) {
			writeFailed = true
		}
		for _, host := range sim.Impact.AffectedHosts {
			assets[host] = struct{}{}
		}
		for _, user := range sim.Impact.AffectedUsers {
			assets[user] = struct{}{}
		}
		if sim.Impact.RiskScore >= 7 {
			report.RisksIdentified = append(report.RisksIdentified,
				fmt.Sprintf("%s: %s", step.ID, sim.Impact.Description))
		}
	}

	report.OverallConfidence = confidence
	report.OverallRiskScore = maxRisk
	report.OverallRiskLevel = models.RiskLevelForScore(maxRisk)
	switch {
	case allPassed:
		report.PredictedOutcome = models.OutcomeSuccess
	case writeFailed:
		report.PredictedOutcome = models.OutcomeFailure
	default:
		report.PredictedOutcome = models.OutcomePartial
	}

	for asset := range assets {
		report.AffectedAssets = append(report.AffectedAssets, asset)
	}
	sort.Strings(report.AffectedAssets)

	report.RollbackPlan = buildRollbackPlan(steps)

	e.logger.Info("Simulation completed",
		"simulation_id", report.SimulationID,
		"runbook_id", rb.ID,
		"predicted_outcome", string(report.PredictedOutcome),
		"overall_risk_score", report.OverallRiskScore,
		"overall_confidence", report.OverallConfidence)
	return report, nil
}

// simulateStep previews one step. Failures are folded into the simulated
// step rather than aborting the whole report.
func (e *Engine) simulateStep(ctx context.Context, step models.Step, tctx *template.Context) models.SimulatedStep {
	sim := models.SimulatedStep{
		StepID:   step.ID,
		StepName: step.DisplayName(),
		Action:   step.Action,
		Executor: step.Executor,
	}

	params := template.ResolveParameters(step.Parameters, tctx)

	a, err := e.registry.Get(step.Executor)
	if err != nil {
		sim.Error = &models.StepError{
			Code:    engine.CodeAdapterNotFound,
			Message: fmt.Sprintf("executor %q is not registered", step.Executor),
		}
		sim.Impact = assessImpact(step, params)
		return sim
	}

	if v, ok := a.(adapter.ParameterValidator); ok {
		if vr := v.ValidateParameters(step.Action, params); !vr.Valid {
			sim.Impact = assessImpact(step, params)
			sim.SideEffects = predictSideEffects(step, params)
			sim.Error = &models.StepError{
				Code:    engine.CodeInvalidInput,
				Message: fmt.Sprintf("parameter validation failed: %v", vr.Errors),
			}
			return sim
		}
	}

	res, err := a.Execute(ctx, step.Action, params, models.ModeSimulation)
	if err != nil {
		code, retryable := engine.ClassifyAdapterError(err.Error())
		sim.Error = &models.StepError{Code: code, Message: err.Error(), Retryable: retryable}
		sim.Impact = assessImpact(step, params)
		return sim
	}

	sim.Impact = assessImpact(step, params)
	sim.SideEffects = predictSideEffects(step, params)
	if res != nil {
		sim.PredictedResult = res.Output
		sim.ValidationsPassed = res.Success
		sim.Confidence = confidenceFromResult(res)
		if res.Error != nil {
			sim.Error = &models.StepError{
				Code:      res.Error.Code,
				Message:   res.Error.Message,
				Retryable: res.Error.Retryable,
			}
		}
	}
	return sim
}

// confidenceFromResult honors an adapter-reported confidence when present.
func confidenceFromResult(res *adapter.Result) float64 {
	if res.Metadata != nil {
		if c, ok := res.Metadata["confidence"].(float64); ok && c > 0 && c <= 1 {
			return c
		}
	}
	if !res.Success {
		return 0
	}
	return defaultStepConfidence
}

// assessImpact derives the blast radius of one step from its action class
// and resolved parameters.
func assessImpact(step models.Step, params map[string]any) models.ImpactAssessment {
	score := riskForAction(step.Action)
	_, irreversible := irreversibleActions[step.Action]

	impact := models.ImpactAssessment{
		RiskScore:  score,
		RiskLevel:  models.RiskLevelForScore(score),
		Reversible: !irreversible && step.Rollback != nil,
	}
	if actions.IsRead(step.Action) {
		impact.Reversible = true
		impact.Description = fmt.Sprintf("read-only %s, no external state change", step.Action)
		return impact
	}

	if host := stringParam(params, "hostname", "host"); host != "" {
		impact.AffectedHosts = append(impact.AffectedHosts, host)
	}
	if user := stringParam(params, "username", "user", "account"); user != "" {
		impact.AffectedUsers = append(impact.AffectedUsers, user)
	}
	if svc := stringParam(params, "service", "service_name"); svc != "" {
		impact.AffectedServices = append(impact.AffectedServices, svc)
	}

	if irreversible {
		impact.Description = fmt.Sprintf("%s cannot be undone once executed", step.Action)
	} else if step.Rollback != nil {
		impact.Description = fmt.Sprintf("%s is reversible via %s", step.Action, step.Rollback.Action)
	} else {
		impact.Description = fmt.Sprintf("%s has no declared rollback", step.Action)
	}
	return impact
}

// predictSideEffects names the external changes a write step would make.
func predictSideEffects(step models.Step, params map[string]any) []string {
	if actions.IsRead(step.Action) {
		return nil
	}
	target := stringParam(params, "hostname", "host", "username", "user", "ip", "domain", "path")
	if target == "" {
		return []string{step.Action}
	}
	return []string{fmt.Sprintf("%s: %s", step.Action, target)}
}

// stringParam returns the first non-empty string among the named keys.
func stringParam(params map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := params[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// buildRollbackPlan summarizes rollback coverage over the write steps, in
// reverse step order.
func buildRollbackPlan(steps []models.Step) models.RollbackPlan {
	writeSteps := 0
	covered := 0
	var planSteps []models.RollbackPlanStep

	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		if !actions.IsWrite(step.Action) {
			continue
		}
		writeSteps++
		if step.Rollback == nil {
			continue
		}
		covered++
		executor := step.Rollback.Executor
		if executor == "" {
			executor = step.Executor
		}
		planSteps = append(planSteps, models.RollbackPlanStep{
			StepID:   step.ID,
			Action:   step.Rollback.Action,
			Executor: executor,
		})
	}

	plan := models.RollbackPlan{Steps: planSteps}
	if writeSteps == 0 {
		plan.Available = true
		plan.Coverage = 1.0
		return plan
	}
	plan.Available = covered == writeSteps
	plan.Coverage = float64(covered) / float64(writeSteps)
	return plan
}
