package models

import "time"

// TimestampFormat is the wire format for all timestamps: ISO-8601 UTC with
// millisecond precision.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t in the engine's canonical wire format.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

// StepResult is the immutable record of one attempted step execution.
// Created once per attempt; never mutated afterwards (RolledBack is set
// by the scheduler during the rollback pass, before the run result is
// sealed).
type StepResult struct {
	StepID      string         `json:"step_id"`
	StepName    string         `json:"step_name"`
	Action      string         `json:"action"`
	Success     bool           `json:"success"`
	Skipped     bool           `json:"skipped,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	DurationMS  int64          `json:"duration_ms"`
	Output      map[string]any `json:"output,omitempty"`
	Error       *StepError     `json:"error,omitempty"`
	RolledBack  bool           `json:"rolled_back,omitempty"`
}

// StepError carries the classified failure of a step attempt.
type StepError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// ExecutionMetrics summarizes a completed run.
type ExecutionMetrics struct {
	TotalSteps      int `json:"total_steps"`
	StepsExecuted   int `json:"steps_executed"`
	StepsSkipped    int `json:"steps_skipped"`
	StepsFailed     int `json:"steps_failed"`
	StepsRolledBack int `json:"steps_rolled_back"`
}

// ExecutionResult is the terminal aggregate of one runbook execution.
type ExecutionResult struct {
	ExecutionID   string           `json:"execution_id"`
	RunbookID     string           `json:"runbook_id"`
	Success       bool             `json:"success"`
	State         ExecutionState   `json:"state"`
	StartedAt     time.Time        `json:"started_at"`
	CompletedAt   time.Time        `json:"completed_at"`
	DurationMS    int64            `json:"duration_ms"`
	StepsExecuted []StepResult     `json:"steps_executed"`
	Error         *StepError       `json:"error,omitempty"`
	Metrics       ExecutionMetrics `json:"metrics"`

	// PendingRequestID is set when the run paused awaiting approval instead
	// of reaching a terminal state.
	PendingRequestID string `json:"pending_request_id,omitempty"`
}

// Pending reports whether the run is parked on an approval gate.
func (r *ExecutionResult) Pending() bool {
	return r.PendingRequestID != ""
}

// TriggerRequest is the scheduler's input: which runbook to run, against
// which alert, and under which mode.
type TriggerRequest struct {
	Runbook *Runbook       `json:"-"`
	Alert   *AlertEvent    `json:"alert,omitempty"`
	Mode    ExecutionMode  `json:"mode"`

	// LevelOverride, when set, replaces the runbook's automation level for
	// this run only.
	LevelOverride AutomationLevel `json:"automation_level_override,omitempty"`
}
