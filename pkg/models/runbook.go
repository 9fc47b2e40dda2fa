package models

// Runbook is an authored automation recipe identified by (ID, Version).
// Runbooks are immutable once loaded; the engine never mutates them.
type Runbook struct {
	ID          string         `json:"id" yaml:"id" validate:"required"`
	Version     string         `json:"version" yaml:"version" validate:"required"`
	Name        string         `json:"name" yaml:"name" validate:"required"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Tags        []string       `json:"tags,omitempty" yaml:"tags,omitempty"`
	Techniques  []string       `json:"mitre_techniques,omitempty" yaml:"mitre_techniques,omitempty"`
	Triggers    RunbookTriggers `json:"triggers" yaml:"triggers"`
	Config      RunbookConfig  `json:"config" yaml:"config"`
	Steps       []Step         `json:"steps" yaml:"steps" validate:"required,min=1,dive"`
}

// RunbookTriggers describes which alerts a runbook responds to.
type RunbookTriggers struct {
	Sources    []string `json:"detection_sources,omitempty" yaml:"detection_sources,omitempty"`
	Techniques []string `json:"techniques,omitempty" yaml:"techniques,omitempty"`
	Platforms  []string `json:"platforms,omitempty" yaml:"platforms,omitempty"`
	Severities []string `json:"severities,omitempty" yaml:"severities,omitempty"`
}

// RunbookConfig carries execution policy for the whole runbook.
type RunbookConfig struct {
	AutomationLevel AutomationLevel `json:"automation_level" yaml:"automation_level" validate:"required"`

	// MaxExecutionTime is the run-level deadline in seconds. Zero means the
	// engine default applies.
	MaxExecutionTime int `json:"max_execution_time,omitempty" yaml:"max_execution_time,omitempty" validate:"gte=0"`

	// RequiresApproval forces approval gating for every write step,
	// regardless of automation level.
	RequiresApproval bool `json:"requires_approval,omitempty" yaml:"requires_approval,omitempty"`

	// ApprovalTimeout is the approval entry TTL in seconds (default 3600).
	ApprovalTimeout int `json:"approval_timeout,omitempty" yaml:"approval_timeout,omitempty" validate:"gte=0"`

	ParallelExecution bool `json:"parallel_execution,omitempty" yaml:"parallel_execution,omitempty"`
	RollbackOnFailure bool `json:"rollback_on_failure,omitempty" yaml:"rollback_on_failure,omitempty"`
}

// DefaultApprovalTimeout is the approval TTL applied when a runbook does
// not set one, in seconds.
const DefaultApprovalTimeout = 3600

// ApprovalTTLSeconds returns the configured approval timeout or the default.
func (c RunbookConfig) ApprovalTTLSeconds() int {
	if c.ApprovalTimeout > 0 {
		return c.ApprovalTimeout
	}
	return DefaultApprovalTimeout
}

// Step is one node of a runbook's DAG.
type Step struct {
	ID   string `json:"id" yaml:"id" validate:"required"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Action is one of the enumerated action symbols (pkg/actions).
	Action string `json:"action" yaml:"action" validate:"required"`

	// Executor names the adapter that serves this step.
	Executor string `json:"executor" yaml:"executor" validate:"required"`

	// Parameters may contain {{ namespace.path }} template expressions.
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`

	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`

	// Condition gates execution. Empty means always run.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`

	// Timeout is the per-step timeout in seconds. Zero fails immediately.
	Timeout int `json:"timeout,omitempty" yaml:"timeout,omitempty" validate:"gte=0"`

	OnError OnErrorPolicy `json:"on_error,omitempty" yaml:"on_error,omitempty"`

	// ApprovalRequired forces approval gating for this step even at L1.
	ApprovalRequired bool `json:"approval_required,omitempty" yaml:"approval_required,omitempty"`

	Rollback *RollbackDefinition `json:"rollback,omitempty" yaml:"rollback,omitempty"`
}

// DisplayName returns the step name, falling back to the id.
func (s Step) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// OnErrorPolicyOrDefault returns the step's policy, defaulting to halt.
func (s Step) OnErrorPolicyOrDefault() OnErrorPolicy {
	if s.OnError == "" {
		return OnErrorHalt
	}
	return s.OnError
}

// RollbackDefinition is a step-attached inverse action invoked in reverse
// completion order on terminal failure.
type RollbackDefinition struct {
	Action string `json:"action" yaml:"action" validate:"required"`

	// Executor defaults to the owning step's executor when empty.
	Executor string `json:"executor,omitempty" yaml:"executor,omitempty"`

	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Timeout    int            `json:"timeout,omitempty" yaml:"timeout,omitempty" validate:"gte=0"`
	OnError    OnErrorPolicy  `json:"on_error,omitempty" yaml:"on_error,omitempty"`
}

// Key identifies a runbook by id and version.
type Key struct {
	ID      string
	Version string
}
