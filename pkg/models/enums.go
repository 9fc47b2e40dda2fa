package models

// AutomationLevel defines how much autonomy a runbook is granted.
type AutomationLevel string

const (
	// AutomationLevelL0 produces a plan only; no actions are executed.
	AutomationLevelL0 AutomationLevel = "L0"
	// AutomationLevelL1 auto-executes read-only and low-impact actions.
	AutomationLevelL1 AutomationLevel = "L1"
	// AutomationLevelL2 executes write actions only after human approval
	// of a simulated preview.
	AutomationLevelL2 AutomationLevel = "L2"
)

// IsValid checks if the automation level is valid.
func (l AutomationLevel) IsValid() bool {
	switch l {
	case AutomationLevelL0, AutomationLevelL1, AutomationLevelL2:
		return true
	default:
		return false
	}
}

// ExecutionMode defines the side-effect policy of a run.
type ExecutionMode string

const (
	// ModeProduction performs real side effects against external tools.
	ModeProduction ExecutionMode = "production"
	// ModeSimulation predicts outcomes without external side effects.
	ModeSimulation ExecutionMode = "simulation"
	// ModeDryRun validates the runbook without calling adapters.
	ModeDryRun ExecutionMode = "dry-run"
)

// IsValid checks if the execution mode is valid.
func (m ExecutionMode) IsValid() bool {
	switch m {
	case ModeProduction, ModeSimulation, ModeDryRun:
		return true
	default:
		return false
	}
}

// ExecutionState is one node of the runbook execution state machine.
type ExecutionState string

const (
	StateIdle             ExecutionState = "idle"
	StateValidating       ExecutionState = "validating"
	StatePlanning         ExecutionState = "planning"
	StateAwaitingApproval ExecutionState = "awaiting_approval"
	StateExecuting        ExecutionState = "executing"
	StateRollingBack      ExecutionState = "rolling_back"
	StateCompleted        ExecutionState = "completed"
	StateFailed           ExecutionState = "failed"
	StateCancelled        ExecutionState = "cancelled"
)

// IsValid checks if the execution state is valid.
func (s ExecutionState) IsValid() bool {
	switch s {
	case StateIdle, StateValidating, StatePlanning, StateAwaitingApproval,
		StateExecuting, StateRollingBack, StateCompleted, StateFailed,
		StateCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the state ends a run. Terminal states are sticky.
func (s ExecutionState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// OnErrorPolicy controls continuation after a step failure.
type OnErrorPolicy string

const (
	// OnErrorHalt stops the run on failure (default).
	OnErrorHalt OnErrorPolicy = "halt"
	// OnErrorContinue records the failure and proceeds to the next step.
	OnErrorContinue OnErrorPolicy = "continue"
	// OnErrorSkip treats the failure as a skip and proceeds.
	OnErrorSkip OnErrorPolicy = "skip"
)

// IsValid checks if the on-error policy is valid.
func (p OnErrorPolicy) IsValid() bool {
	return p == OnErrorHalt || p == OnErrorContinue || p == OnErrorSkip
}

// ApprovalStatus is the lifecycle state of an approval queue entry.
// Transitions: pending → approved | denied | expired. Terminal states are sticky.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusDenied   ApprovalStatus = "denied"
	ApprovalStatusExpired  ApprovalStatus = "expired"
)

// IsValid checks if the approval status is valid.
func (s ApprovalStatus) IsValid() bool {
	switch s {
	case ApprovalStatusPending, ApprovalStatusApproved, ApprovalStatusDenied, ApprovalStatusExpired:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the approval status is final.
func (s ApprovalStatus) IsTerminal() bool {
	return s == ApprovalStatusApproved || s == ApprovalStatusDenied || s == ApprovalStatusExpired
}
