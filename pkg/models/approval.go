package models

import (
	"encoding/json"
	"time"
)

// ApprovalQueueEntry is the persisted record of a pending human gate for
// one L2 write action.
//
// Parameters and SimulationResult are frozen at insert time as opaque JSON
// so approval means "approve exactly this payload". They are never
// re-serialized on read; executing the approved entry uses the stored bytes
// verbatim.
type ApprovalQueueEntry struct {
	RequestID   string `json:"request_id" db:"request_id"`
	ExecutionID string `json:"execution_id" db:"execution_id"`
	RunbookID   string `json:"runbook_id" db:"runbook_id"`
	RunbookName string `json:"runbook_name" db:"runbook_name"`
	StepID      string `json:"step_id" db:"step_id"`
	StepName    string `json:"step_name" db:"step_name"`
	Action      string `json:"action" db:"action"`

	// Executor is the adapter the runbook step named; the approved action
	// runs through this adapter and no other.
	Executor string `json:"executor" db:"executor"`

	// Parameters is the frozen, byte-stable JSON snapshot of the resolved
	// step parameters.
	Parameters json.RawMessage `json:"parameters" db:"parameters"`

	// SimulationResult is the frozen JSON snapshot of the SimulationReport
	// shown to the approver.
	SimulationResult json.RawMessage `json:"simulation_result" db:"simulation_result"`

	Status       ApprovalStatus `json:"status" db:"status"`
	RequestedAt  time.Time      `json:"requested_at" db:"requested_at"`
	ExpiresAt    time.Time      `json:"expires_at" db:"expires_at"`
	ApprovedBy   *string        `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt   *time.Time     `json:"approved_at,omitempty" db:"approved_at"`
	DenialReason *string        `json:"denial_reason,omitempty" db:"denial_reason"`
}

// Expired reports whether the entry's TTL has elapsed at the given time.
func (e *ApprovalQueueEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// ApprovalRequest is the input for enqueuing a new approval gate.
//
// Parameters and SimulationResult are stored verbatim: the bytes given here
// are the bytes later approved and executed.
type ApprovalRequest struct {
	ExecutionID      string
	RunbookID        string
	RunbookName      string
	StepID           string
	StepName         string
	Action           string
	Executor         string
	Parameters       json.RawMessage
	SimulationResult json.RawMessage
	TTL              time.Duration
}

// QueueExecutionResult is the outcome of executing an approved entry.
// Normal failures are carried in Error; the queue executor never panics or
// returns a Go error for an adapter-level failure.
type QueueExecutionResult struct {
	RequestID   string         `json:"request_id"`
	ExecutionID string         `json:"execution_id"`
	Action      string         `json:"action"`
	Success     bool           `json:"success"`
	Output      map[string]any `json:"output,omitempty"`
	Error       *StepError     `json:"error,omitempty"`
	ExecutedAt  time.Time      `json:"executed_at"`
	ExecutedBy  string         `json:"executed_by"`
}
