package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/opsgate/opsgate/pkg/actions"
	"github.com/opsgate/opsgate/pkg/adapter"
	"github.com/opsgate/opsgate/pkg/audit"
	"github.com/opsgate/opsgate/pkg/models"
	"github.com/opsgate/opsgate/pkg/services"
	"github.com/opsgate/opsgate/pkg/template"
)

// DefaultMaxExecutionTime is the run-level deadline applied when a runbook
// does not set max_execution_time.
const DefaultMaxExecutionTime = time.Hour

// Simulator previews steps without side effects. Implemented by the
// simulation engine.
type Simulator interface {
	Simulate(ctx context.Context, rb *models.Runbook, steps []models.Step, tctx *template.Context) (*models.SimulationReport, error)
}

// ApprovalQueue enqueues L2 approval gates. Implemented by the queue store.
type ApprovalQueue interface {
	Create(ctx context.Context, req models.ApprovalRequest) (*models.ApprovalQueueEntry, error)
}

// Persistence is the slice of the execution service the scheduler writes
// through.
type Persistence interface {
	CreateExecution(ctx context.Context, ne *services.NewExecution) error
	UpdateExecutionState(ctx context.Context, executionID string, from, to models.ExecutionState) error
	SaveContextSnapshot(ctx context.Context, executionID string, snapshot []byte) error
	CompleteExecution(ctx context.Context, executionID string, state models.ExecutionState, completedAt time.Time, durationMS int64, execErr *models.StepError) error
	SaveStepResult(ctx context.Context, executionID string, sr *models.StepResult) error
}

// SchedulerConfig tunes the scheduler.
type SchedulerConfig struct {
	// Retry applies to every adapter call made by the step executor.
	Retry RetryPolicy
}

// DefaultSchedulerConfig returns the built-in scheduler settings.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{Retry: DefaultRetryPolicy()}
}

// stepGate is the gating decision for one step.
type stepGate int

const (
	gateExecute stepGate = iota
	gatePlanOnly
	gateApproval
)

// plannedStep is one node of the computed execution order.
type plannedStep struct {
	step models.Step
	rank int
}

// runState is the scheduler-private state of one live run.
type runState struct {
	rb      *models.Runbook
	level   models.AutomationLevel
	mode    models.ExecutionMode
	ectx    *ExecutionContext
	order   []plannedStep
	stepsByID map[string]models.Step

	// idx is the next position in order to consider.
	idx int

	results         map[string]*models.StepResult
	completionOrder []string
	resolvedParams  map[string]map[string]any
	deadline        time.Time

	// pendingRequestID is set while the run is parked on an approval gate.
	pendingRequestID string
}

// Scheduler drives runbook executions through the state graph: validation,
// planning, gated dispatch, rollback, and terminal bookkeeping. It is the
// only mutator of each run's ExecutionContext.
type Scheduler struct {
	registry *adapter.Registry
	stepExec *StepExecutor
	audit    audit.Recorder
	persist  Persistence
	queue    ApprovalQueue
	sim      Simulator
	config   SchedulerConfig
	logger   *slog.Logger

	mu     sync.Mutex
	parked map[string]*runState

	// sems rate-limits dispatch per adapter, sized by MaxConcurrency.
	semMu sync.Mutex
	sems  map[string]*semaphore.Weighted
}

// NewScheduler creates a scheduler. persist, queue, and sim may be nil in
// reduced setups (dry runs, tests of read-only paths); gating then degrades
// to an error on the first step that needs the missing collaborator.
func NewScheduler(registry *adapter.Registry, recorder audit.Recorder, persist Persistence, queue ApprovalQueue, sim Simulator, config SchedulerConfig, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		registry: registry,
		stepExec: NewStepExecutor(),
		audit:    recorder,
		persist:  persist,
		queue:    queue,
		sim:      sim,
		config:   config,
		logger:   logger.With("component", "scheduler"),
		parked:   make(map[string]*runState),
		sems:     make(map[string]*semaphore.Weighted),
	}
}

// Execute drives one run from idle to a terminal state, or parks it on an
// approval gate and returns a pending result carrying the request id.
func (s *Scheduler) Execute(ctx context.Context, req models.TriggerRequest) (*models.ExecutionResult, error) {
	if req.Runbook == nil {
		return nil, fmt.Errorf("trigger: %s: runbook is required", CodeInvalidInput)
	}
	mode := req.Mode
	if mode == "" {
		mode = models.ModeProduction
	}
	if !mode.IsValid() {
		return nil, fmt.Errorf("trigger: %s: unknown mode %q", CodeInvalidInput, req.Mode)
	}
	level := req.Runbook.Config.AutomationLevel
	if req.LevelOverride != "" {
		level = req.LevelOverride
	}
	if !level.IsValid() {
		return nil, fmt.Errorf("trigger: %s: unknown automation level %q", CodeInvalidInput, level)
	}

	rs := &runState{
		rb:             req.Runbook,
		level:          level,
		mode:           mode,
		ectx:           NewExecutionContext(req.Runbook, req.Alert, mode),
		stepsByID:      make(map[string]models.Step, len(req.Runbook.Steps)),
		results:        make(map[string]*models.StepResult),
		resolvedParams: make(map[string]map[string]any),
	}
	for _, step := range req.Runbook.Steps {
		rs.stepsByID[step.ID] = step
	}

	maxExec := DefaultMaxExecutionTime
	if req.Runbook.Config.MaxExecutionTime > 0 {
		maxExec = time.Duration(req.Runbook.Config.MaxExecutionTime) * time.Second
	}
	rs.deadline = rs.ectx.StartedAt.Add(maxExec)

	if s.persist != nil {
		err := s.persist.CreateExecution(ctx, &services.NewExecution{
			ExecutionID:    rs.ectx.ExecutionID,
			RunbookID:      rs.rb.ID,
			RunbookVersion: rs.rb.Version,
			RunbookName:    rs.rb.Name,
			State:          models.StateIdle,
			Mode:           mode,
			StartedAt:      rs.ectx.StartedAt,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to persist execution: %w", err)
		}
	}

	s.recordAudit(ctx, rs, models.AuditExecutionStarted, map[string]any{
		"runbook_id":       rs.rb.ID,
		"runbook_name":     rs.rb.Name,
		"runbook_version":  rs.rb.Version,
		"mode":             string(mode),
		"automation_level": string(level),
	})

	s.logger.Info("Execution started",
		"execution_id", rs.ectx.ExecutionID,
		"runbook_id", rs.rb.ID,
		"mode", string(mode),
		"automation_level", string(level))

	// validating
	if err := s.moveState(ctx, rs, models.StateValidating); err != nil {
		return nil, err
	}
	if err := s.validate(rs); err != nil {
		return s.failRun(ctx, rs, CodeExecValidationFailed, err.Error(), false), nil
	}

	// planning
	if err := s.moveState(ctx, rs, models.StatePlanning); err != nil {
		return nil, err
	}
	order, err := planOrder(rs.rb.Steps)
	if err != nil {
		return s.failRun(ctx, rs, CodeExecValidationFailed, err.Error(), false), nil
	}
	rs.order = order

	if mode == models.ModeDryRun {
		// Dry runs stop after validation and planning.
		if err := s.moveState(ctx, rs, models.StateExecuting); err != nil {
			return nil, err
		}
		return s.completeRun(ctx, rs), nil
	}

	return s.runLoop(ctx, rs)
}

// runLoop advances the planned order from rs.idx until the run terminates
// or parks on an approval gate. Shared by Execute and ResumeApproved. The
// planning -> executing transition is deferred to the first executed batch,
// so a run whose first step gates parks straight from planning.
func (s *Scheduler) runLoop(ctx context.Context, rs *runState) (*models.ExecutionResult, error) {
	runCtx, cancel := context.WithDeadline(ctx, rs.deadline)
	defer cancel()

	for rs.idx < len(rs.order) {
		batch, gated := s.nextBatch(rs)

		if len(batch) == 0 {
			// The next step needs an approval gate.
			return s.parkOnApproval(ctx, rs, gated)
		}

		if err := s.enterExecuting(ctx, rs); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return s.failRun(ctx, rs, CodeExecCancelled, "execution cancelled", rs.rb.Config.RollbackOnFailure), nil
		}
		if !time.Now().Before(rs.deadline) {
			return s.failRun(ctx, rs, CodeExecTimeout,
				fmt.Sprintf("execution exceeded max_execution_time (deadline %s)", models.FormatTimestamp(rs.deadline)),
				rs.rb.Config.RollbackOnFailure), nil
		}

		halted, haltStep := s.runBatch(runCtx, rs, batch)
		if halted {
			return s.haltOnStep(ctx, rs, haltStep), nil
		}
	}

	if err := s.enterExecuting(ctx, rs); err != nil {
		return nil, err
	}
	return s.completeRun(ctx, rs), nil
}

// enterExecuting moves the run into executing unless it is there already.
func (s *Scheduler) enterExecuting(ctx context.Context, rs *runState) error {
	if rs.ectx.State == models.StateExecuting {
		return nil
	}
	return s.moveState(ctx, rs, models.StateExecuting)
}

// nextBatch returns the maximal run of same-rank steps starting at rs.idx
// that execute without parking. When the next step requires an approval
// gate, batch is empty and the gated step is returned instead.
func (s *Scheduler) nextBatch(rs *runState) (batch []plannedStep, gated models.Step) {
	first := rs.order[rs.idx]
	if s.gateFor(rs, first.step) == gateApproval {
		rs.idx++
		return nil, first.step
	}

	batch = append(batch, first)
	rs.idx++

	if !rs.rb.Config.ParallelExecution {
		return batch, models.Step{}
	}
	for rs.idx < len(rs.order) {
		next := rs.order[rs.idx]
		if next.rank != first.rank || s.gateFor(rs, next.step) == gateApproval {
			break
		}
		batch = append(batch, next)
		rs.idx++
	}
	return batch, models.Step{}
}

// runBatch executes a batch of equal-rank steps, concurrently when the
// runbook allows it. Returns whether a halt-policy failure occurred and
// the offending step.
func (s *Scheduler) runBatch(ctx context.Context, rs *runState, batch []plannedStep) (bool, models.Step) {
	if len(batch) == 1 || !rs.rb.Config.ParallelExecution {
		for _, ps := range batch {
			outcome := s.dispatchStep(ctx, rs, ps.step)
			s.recordStepOutcome(ctx, rs, ps.step, outcome)
			if !outcome.ShouldContinue {
				return true, ps.step
			}
		}
		return false, models.Step{}
	}

	outcomes := make([]ExecuteOutcome, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	for i, ps := range batch {
		g.Go(func() error {
			sem := s.adapterSemaphore(ps.step.Executor)
			if sem != nil {
				if err := sem.Acquire(gctx, 1); err != nil {
					return err
				}
				defer sem.Release(1)
			}
			outcomes[i] = s.dispatchStep(gctx, rs, ps.step)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Semaphore acquisition only fails on context cancellation; the
		// deadline and cancel checks at the loop top pick it up.
		s.logger.Warn("Parallel batch interrupted", "execution_id", rs.ectx.ExecutionID, "error", err)
	}

	// Results are recorded in authored order so the audit chain stays
	// deterministic.
	for i, ps := range batch {
		if outcomes[i].StepResult.StepID == "" {
			continue
		}
		s.recordStepOutcome(ctx, rs, ps.step, outcomes[i])
	}
	for i, ps := range batch {
		if outcomes[i].StepResult.StepID != "" && !outcomes[i].ShouldContinue {
			return true, ps.step
		}
	}
	return false, models.Step{}
}

// dispatchStep runs one step according to its gate. The gate is execute or
// plan-only here; approval gates never reach this point.
func (s *Scheduler) dispatchStep(ctx context.Context, rs *runState, step models.Step) ExecuteOutcome {
	if s.gateFor(rs, step) == gatePlanOnly {
		return s.planOnlyOutcome(rs, step)
	}

	mode := rs.mode
	s.recordAudit(ctx, rs, models.AuditStepStarted, map[string]any{
		"step_id": step.ID,
		"action":  step.Action,
	})

	outcome := s.stepExec.ExecuteStep(ctx, step, ExecuteOptions{
		Mode:            mode,
		TemplateContext: rs.ectx.TemplateContext(),
		ResolveAdapter:  s.resolverFor(step),
		Retry:           s.config.Retry,
	})

	// on_error=skip converts a failure into a skip.
	if !outcome.StepResult.Success && !outcome.StepResult.Skipped &&
		step.OnErrorPolicyOrDefault() == models.OnErrorSkip {
		outcome.StepResult.Skipped = true
		outcome.ShouldContinue = true
	}
	return outcome
}

// planOnlyOutcome records the intended write action of an L0 run without
// executing it.
func (s *Scheduler) planOnlyOutcome(rs *runState, step models.Step) ExecuteOutcome {
	params := template.ResolveParameters(step.Parameters, rs.ectx.TemplateContext())
	now := time.Now()
	return ExecuteOutcome{
		StepResult: models.StepResult{
			StepID:      step.ID,
			StepName:    step.DisplayName(),
			Action:      step.Action,
			Success:     true,
			Skipped:     true,
			StartedAt:   now,
			CompletedAt: now,
			Output: map[string]any{
				"planned_only": true,
				"parameters":   params,
			},
		},
		ShouldContinue: true,
	}
}

// recordStepOutcome persists and audits one step result and folds it into
// the execution context.
func (s *Scheduler) recordStepOutcome(ctx context.Context, rs *runState, step models.Step, outcome ExecuteOutcome) {
	result := outcome.StepResult
	rs.results[step.ID] = &result
	rs.completionOrder = append(rs.completionOrder, step.ID)
	rs.resolvedParams[step.ID] = template.ResolveParameters(step.Parameters, rs.ectx.TemplateContext())

	rs.ectx.MarkStepCompleted(step.ID)
	if result.Output != nil {
		rs.ectx.SetStepOutput(step.ID, result.Output)
	}

	if s.persist != nil {
		if err := s.persist.SaveStepResult(ctx, rs.ectx.ExecutionID, &result); err != nil {
			s.logger.Error("Failed to persist step result",
				"execution_id", rs.ectx.ExecutionID, "step_id", step.ID, "error", err)
		}
	}

	details := map[string]any{
		"step_id": step.ID,
		"action":  step.Action,
		"success": result.Success,
	}
	eventType := models.AuditStepCompleted
	if result.Skipped {
		details["skipped"] = true
	}
	if !result.Success {
		eventType = models.AuditStepFailed
		if result.Error != nil {
			details["error_code"] = result.Error.Code
			details["error_message"] = result.Error.Message
		}
	}
	s.recordAudit(ctx, rs, eventType, details)
}

// haltOnStep terminates the run after a halt-policy failure, rolling back
// first when configured.
func (s *Scheduler) haltOnStep(ctx context.Context, rs *runState, step models.Step) *models.ExecutionResult {
	message := fmt.Sprintf("step %s failed with on_error=halt", step.ID)
	code := CodePlaybookStepFailed
	if result := rs.results[step.ID]; result != nil && result.Error != nil {
		message = result.Error.Message
		code = result.Error.Code
	}
	return s.failRun(ctx, rs, code, message, rs.rb.Config.RollbackOnFailure)
}

// parkOnApproval simulates the gated step, enqueues the approval entry,
// persists the context, and returns a pending result. The scheduler never
// blocks on approval.
func (s *Scheduler) parkOnApproval(ctx context.Context, rs *runState, step models.Step) (*models.ExecutionResult, error) {
	if s.sim == nil || s.queue == nil {
		return s.failRun(ctx, rs, CodeInternalError,
			"approval gating requires a simulator and an approval queue", false), nil
	}

	s.recordAudit(ctx, rs, models.AuditSimulationStarted, map[string]any{"step_id": step.ID})
	report, err := s.sim.Simulate(ctx, rs.rb, []models.Step{step}, rs.ectx.TemplateContext())
	if err != nil {
		s.recordAudit(ctx, rs, models.AuditSimulationFailed, map[string]any{
			"step_id": step.ID,
			"error":   err.Error(),
		})
		return s.failRun(ctx, rs, CodeInternalError, fmt.Sprintf("simulation failed: %v", err), false), nil
	}
	s.recordAudit(ctx, rs, models.AuditSimulationCompleted, map[string]any{
		"step_id":            step.ID,
		"simulation_id":      report.SimulationID,
		"predicted_outcome":  string(report.PredictedOutcome),
		"overall_risk_score": report.OverallRiskScore,
	})

	params := template.ResolveParameters(step.Parameters, rs.ectx.TemplateContext())
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return s.failRun(ctx, rs, CodeInternalError, fmt.Sprintf("failed to freeze parameters: %v", err), false), nil
	}
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return s.failRun(ctx, rs, CodeInternalError, fmt.Sprintf("failed to freeze simulation report: %v", err), false), nil
	}

	entry, err := s.queue.Create(ctx, models.ApprovalRequest{
		ExecutionID:      rs.ectx.ExecutionID,
		RunbookID:        rs.rb.ID,
		RunbookName:      rs.rb.Name,
		StepID:           step.ID,
		StepName:         step.DisplayName(),
		Action:           step.Action,
		Executor:         step.Executor,
		Parameters:       paramsJSON,
		SimulationResult: reportJSON,
		TTL:              time.Duration(rs.rb.Config.ApprovalTTLSeconds()) * time.Second,
	})
	if err != nil {
		return s.failRun(ctx, rs, CodeInternalError, fmt.Sprintf("failed to enqueue approval: %v", err), false), nil
	}

	s.recordAudit(ctx, rs, models.AuditApprovalRequested, map[string]any{
		"request_id": entry.RequestID,
		"step_id":    step.ID,
		"action":     step.Action,
		"expires_at": models.FormatTimestamp(entry.ExpiresAt),
	})
	s.recordAudit(ctx, rs, models.AuditApprovalQueueCreated, map[string]any{
		"request_id": entry.RequestID,
	})

	if err := s.moveState(ctx, rs, models.StateAwaitingApproval); err != nil {
		return nil, err
	}
	rs.pendingRequestID = entry.RequestID

	if s.persist != nil {
		if snapshot, serr := rs.ectx.Snapshot(); serr == nil {
			if perr := s.persist.SaveContextSnapshot(ctx, rs.ectx.ExecutionID, snapshot); perr != nil {
				s.logger.Error("Failed to persist context snapshot",
					"execution_id", rs.ectx.ExecutionID, "error", perr)
			}
		}
	}

	s.mu.Lock()
	s.parked[rs.ectx.ExecutionID] = rs
	s.mu.Unlock()

	s.logger.Info("Execution awaiting approval",
		"execution_id", rs.ectx.ExecutionID,
		"request_id", entry.RequestID,
		"step_id", step.ID)

	result := s.buildResult(rs, models.StateAwaitingApproval)
	result.PendingRequestID = entry.RequestID
	return result, nil
}

// ResumeApproved continues a parked run after the queue executor ran the
// gated step. The step result comes from the approved execution.
func (s *Scheduler) ResumeApproved(ctx context.Context, entry *models.ApprovalQueueEntry, stepResult *models.StepResult) (*models.ExecutionResult, error) {
	rs, err := s.takeParked(entry.ExecutionID)
	if err != nil {
		return nil, err
	}
	step, ok := rs.stepsByID[entry.StepID]
	if !ok {
		return nil, fmt.Errorf("resume %s: unknown step %q", entry.ExecutionID, entry.StepID)
	}

	if err := s.moveState(ctx, rs, models.StateExecuting); err != nil {
		return nil, err
	}
	rs.pendingRequestID = ""

	outcome := ExecuteOutcome{
		StepResult:     *stepResult,
		ShouldContinue: stepResult.Success || step.OnErrorPolicyOrDefault() != models.OnErrorHalt,
		HasRollback:    step.Rollback != nil,
	}
	if !stepResult.Success && step.OnErrorPolicyOrDefault() == models.OnErrorSkip {
		outcome.StepResult.Skipped = true
		outcome.ShouldContinue = true
	}
	s.recordStepOutcome(ctx, rs, step, outcome)

	if !outcome.ShouldContinue {
		return s.haltOnStep(ctx, rs, step), nil
	}
	return s.runLoop(ctx, rs)
}

// ResumeDenied terminates a parked run after its approval gate was denied
// or expired.
func (s *Scheduler) ResumeDenied(ctx context.Context, entry *models.ApprovalQueueEntry, code, reason string) (*models.ExecutionResult, error) {
	rs, err := s.takeParked(entry.ExecutionID)
	if err != nil {
		return nil, err
	}
	rs.pendingRequestID = ""
	return s.failRun(ctx, rs, code, reason, false), nil
}

// takeParked removes and returns the parked state for an execution.
func (s *Scheduler) takeParked(executionID string) (*runState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.parked[executionID]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", executionID, ErrExecutionNotFound)
	}
	delete(s.parked, executionID)
	return rs, nil
}

// PendingExecutions lists the execution ids currently parked on approval.
func (s *Scheduler) PendingExecutions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.parked))
	for id := range s.parked {
		out = append(out, id)
	}
	return out
}

// gateFor classifies a step against the run's automation level.
func (s *Scheduler) gateFor(rs *runState, step models.Step) stepGate {
	// Simulation and dry-run modes never gate; adapters see no production
	// traffic in either.
	if rs.mode != models.ModeProduction {
		return gateExecute
	}
	if actions.IsRead(step.Action) {
		return gateExecute
	}
	switch rs.level {
	case models.AutomationLevelL0:
		return gatePlanOnly
	case models.AutomationLevelL1:
		if step.ApprovalRequired || rs.rb.Config.RequiresApproval {
			return gateApproval
		}
		return gateExecute
	default:
		return gateApproval
	}
}

// resolverFor restricts adapter lookup to the exact executor the step
// names. A name serving the action through a different adapter is not a
// silent fallback.
func (s *Scheduler) resolverFor(step models.Step) adapter.Resolver {
	return func(name string) (adapter.Adapter, bool) {
		if name != step.Executor {
			return nil, false
		}
		a, err := s.registry.Get(name)
		if err != nil {
			return nil, false
		}
		return a, true
	}
}

// adapterSemaphore returns the dispatch limiter for an adapter, or nil
// when the adapter advertises unlimited concurrency.
func (s *Scheduler) adapterSemaphore(executor string) *semaphore.Weighted {
	a, err := s.registry.Get(executor)
	if err != nil {
		return nil
	}
	limit := a.Capabilities().MaxConcurrency
	if limit <= 0 {
		return nil
	}

	s.semMu.Lock()
	defer s.semMu.Unlock()
	sem, ok := s.sems[executor]
	if !ok {
		sem = semaphore.NewWeighted(int64(limit))
		s.sems[executor] = sem
	}
	return sem
}

// validate enforces runbook invariants before any execution: unique step
// ids, resolvable depends_on edges, known actions, and registered
// executors serving those actions.
func (s *Scheduler) validate(rs *runState) error {
	seen := make(map[string]struct{}, len(rs.rb.Steps))
	for _, step := range rs.rb.Steps {
		if _, dup := seen[step.ID]; dup {
			return fmt.Errorf("duplicate step id %q", step.ID)
		}
		seen[step.ID] = struct{}{}
	}

	for _, step := range rs.rb.Steps {
		for _, dep := range step.DependsOn {
			if _, ok := rs.stepsByID[dep]; !ok {
				return fmt.Errorf("step %q depends on unknown step %q", step.ID, dep)
			}
		}
		if !actions.IsKnown(step.Action) {
			return fmt.Errorf("step %q uses unknown action %q", step.ID, step.Action)
		}
		if _, err := s.registry.Get(step.Executor); err != nil {
			return fmt.Errorf("step %q: executor %q is not registered", step.ID, step.Executor)
		}
		if !s.registry.Supports(step.Executor, step.Action) {
			return fmt.Errorf("step %q: adapter %q does not support action %q", step.ID, step.Executor, step.Action)
		}
		if step.Rollback != nil {
			if !actions.IsKnown(step.Rollback.Action) {
				return fmt.Errorf("step %q: unknown rollback action %q", step.ID, step.Rollback.Action)
			}
		}
	}
	return nil
}

// planOrder computes a topological order over depends_on with ranks.
// Equal-rank steps stay in authored order. Cycles are an error.
func planOrder(steps []models.Step) ([]plannedStep, error) {
	ranks := make(map[string]int, len(steps))
	placed := make(map[string]struct{}, len(steps))
	var order []plannedStep

	for len(order) < len(steps) {
		progressed := false
		for _, step := range steps {
			if _, done := placed[step.ID]; done {
				continue
			}
			rank := 0
			ready := true
			for _, dep := range step.DependsOn {
				depRank, ok := ranks[dep]
				if !ok {
					ready = false
					break
				}
				if depRank+1 > rank {
					rank = depRank + 1
				}
			}
			if !ready {
				continue
			}
			ranks[step.ID] = rank
			placed[step.ID] = struct{}{}
			order = append(order, plannedStep{step: step, rank: rank})
			progressed = true
		}
		if !progressed {
			return nil, fmt.Errorf("dependency cycle among runbook steps")
		}
	}
	return order, nil
}

// moveState transitions the run and audits the change. Terminal
// transitions are audited through execution_completed / execution_failed
// instead of state_changed.
func (s *Scheduler) moveState(ctx context.Context, rs *runState, to models.ExecutionState) error {
	from := rs.ectx.State
	if err := transition(rs.ectx, to); err != nil {
		return err
	}
	if s.persist != nil {
		if err := s.persist.UpdateExecutionState(ctx, rs.ectx.ExecutionID, from, to); err != nil {
			s.logger.Error("Failed to persist state transition",
				"execution_id", rs.ectx.ExecutionID, "from", string(from), "to", string(to), "error", err)
		}
	}
	if !to.IsTerminal() {
		s.recordAudit(ctx, rs, models.AuditStateChanged, map[string]any{
			"from": string(from),
			"to":   string(to),
		})
	}
	return nil
}

// failRun drives the run to failed (or cancelled), optionally rolling back
// completed steps first, and seals the result.
func (s *Scheduler) failRun(ctx context.Context, rs *runState, code, message string, rollback bool) *models.ExecutionResult {
	execErr := &models.StepError{Code: code, Message: message}
	rs.ectx.SetError(execErr)

	if rollback && rs.ectx.State == models.StateExecuting && s.hasRollbackWork(rs) {
		if err := s.moveState(ctx, rs, models.StateRollingBack); err == nil {
			s.rollbackPass(ctx, rs)
		}
	}

	terminal := models.StateFailed
	if code == CodeExecCancelled {
		terminal = models.StateCancelled
	}
	if !CanTransition(rs.ectx.State, terminal) {
		// A run failing before executing (validation, planning) still lands
		// on failed.
		terminal = models.StateFailed
	}
	if err := s.moveState(ctx, rs, terminal); err != nil {
		s.logger.Error("Invalid terminal transition",
			"execution_id", rs.ectx.ExecutionID, "state", string(rs.ectx.State), "error", err)
		rs.ectx.SetState(terminal)
	}

	result := s.sealRun(ctx, rs, terminal, execErr)
	s.recordAudit(ctx, rs, models.AuditExecutionFailed, map[string]any{
		"error_code":    code,
		"error_message": message,
		"state":         string(terminal),
	})
	s.logger.Warn("Execution failed",
		"execution_id", rs.ectx.ExecutionID,
		"error_code", code,
		"error", message)
	return result
}

// completeRun seals a successful run.
func (s *Scheduler) completeRun(ctx context.Context, rs *runState) *models.ExecutionResult {
	if err := s.moveState(ctx, rs, models.StateCompleted); err != nil {
		s.logger.Error("Invalid terminal transition",
			"execution_id", rs.ectx.ExecutionID, "error", err)
		rs.ectx.SetState(models.StateCompleted)
	}
	result := s.sealRun(ctx, rs, models.StateCompleted, nil)
	s.recordAudit(ctx, rs, models.AuditExecutionCompleted, map[string]any{
		"steps_executed": result.Metrics.StepsExecuted,
		"duration_ms":    result.DurationMS,
	})
	s.logger.Info("Execution completed",
		"execution_id", rs.ectx.ExecutionID,
		"duration_ms", result.DurationMS)
	return result
}

// sealRun writes the terminal execution row and builds the final result.
func (s *Scheduler) sealRun(ctx context.Context, rs *runState, state models.ExecutionState, execErr *models.StepError) *models.ExecutionResult {
	result := s.buildResult(rs, state)
	result.Error = execErr

	if s.persist != nil {
		if err := s.persist.CompleteExecution(ctx, rs.ectx.ExecutionID, state, result.CompletedAt, result.DurationMS, execErr); err != nil {
			s.logger.Error("Failed to seal execution",
				"execution_id", rs.ectx.ExecutionID, "error", err)
		}
	}
	return result
}

// buildResult assembles the ExecutionResult from recorded step outcomes.
func (s *Scheduler) buildResult(rs *runState, state models.ExecutionState) *models.ExecutionResult {
	completedAt := time.Now()
	result := &models.ExecutionResult{
		ExecutionID: rs.ectx.ExecutionID,
		RunbookID:   rs.rb.ID,
		Success:     state == models.StateCompleted,
		State:       state,
		StartedAt:   rs.ectx.StartedAt,
		Metrics:     models.ExecutionMetrics{TotalSteps: len(rs.rb.Steps)},
	}
	if state.IsTerminal() {
		result.CompletedAt = completedAt
		result.DurationMS = completedAt.Sub(rs.ectx.StartedAt).Milliseconds()
	}

	for _, stepID := range rs.completionOrder {
		r := rs.results[stepID]
		result.StepsExecuted = append(result.StepsExecuted, *r)
		switch {
		case r.Skipped:
			result.Metrics.StepsSkipped++
		case r.Success:
			result.Metrics.StepsExecuted++
		default:
			result.Metrics.StepsFailed++
		}
		if r.RolledBack {
			result.Metrics.StepsRolledBack++
		}
	}
	return result
}

// hasRollbackWork reports whether any successfully executed step declared
// a rollback.
func (s *Scheduler) hasRollbackWork(rs *runState) bool {
	for stepID, r := range rs.results {
		step := rs.stepsByID[stepID]
		if step.Rollback != nil && r.Success && !r.Skipped {
			return true
		}
	}
	return false
}

// rollbackPass invokes declared rollbacks in reverse completion order.
// Individual failures are audited and do not abort the pass.
func (s *Scheduler) rollbackPass(ctx context.Context, rs *runState) {
	s.recordAudit(ctx, rs, models.AuditRollbackStarted, map[string]any{
		"steps": len(rs.completionOrder),
	})

	for i := len(rs.completionOrder) - 1; i >= 0; i-- {
		stepID := rs.completionOrder[i]
		step := rs.stepsByID[stepID]
		result := rs.results[stepID]
		if step.Rollback == nil || !result.Success || result.Skipped {
			continue
		}

		executor := step.Rollback.Executor
		if executor == "" {
			executor = step.Executor
		}
		a, err := s.registry.Get(executor)
		if err != nil {
			s.recordAudit(ctx, rs, models.AuditRollbackFailed, map[string]any{
				"step_id": stepID,
				"action":  step.Rollback.Action,
				"error":   fmt.Sprintf("executor %q is not registered", executor),
			})
			continue
		}

		// Rollback receives the step's original resolved parameters; the
		// declaration's own parameters override on key collision.
		params := make(map[string]any, len(rs.resolvedParams[stepID]))
		for k, v := range rs.resolvedParams[stepID] {
			params[k] = v
		}
		for k, v := range template.ResolveParameters(step.Rollback.Parameters, rs.ectx.TemplateContext()) {
			params[k] = v
		}

		res, err := a.Rollback(ctx, step.Rollback.Action, params)
		if err != nil || res == nil || !res.Success {
			detail := map[string]any{
				"step_id": stepID,
				"action":  step.Rollback.Action,
			}
			if err != nil {
				detail["error"] = err.Error()
			} else if res != nil && res.Error != nil {
				detail["error"] = res.Error.Message
			}
			s.recordAudit(ctx, rs, models.AuditRollbackFailed, detail)
			s.logger.Warn("Rollback step failed",
				"execution_id", rs.ectx.ExecutionID, "step_id", stepID)
			continue
		}

		result.RolledBack = true
		s.recordAudit(ctx, rs, models.AuditRollbackCompleted, map[string]any{
			"step_id": stepID,
			"action":  step.Rollback.Action,
		})
	}
}

func (s *Scheduler) recordAudit(ctx context.Context, rs *runState, eventType models.AuditEventType, details map[string]any) {
	if s.audit == nil {
		return
	}
	_, err := s.audit.Record(ctx, audit.Event{
		ExecutionID: rs.ectx.ExecutionID,
		RunbookID:   rs.rb.ID,
		Type:        eventType,
		Actor:       audit.DefaultActor,
		Details:     details,
	})
	if err != nil {
		s.logger.Error("Failed to record audit event",
			"execution_id", rs.ectx.ExecutionID,
			"event_type", string(eventType),
			"error", err)
	}
}
