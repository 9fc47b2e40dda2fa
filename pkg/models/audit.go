package models

import (
	"encoding/json"
	"strings"
	"time"
)

// AuditEventType enumerates the events written to the audit chain.
type AuditEventType string

const (
	AuditExecutionStarted   AuditEventType = "execution_started"
	AuditExecutionCompleted AuditEventType = "execution_completed"
	AuditExecutionFailed    AuditEventType = "execution_failed"

	AuditStepStarted   AuditEventType = "step_started"
	AuditStepCompleted AuditEventType = "step_completed"
	AuditStepFailed    AuditEventType = "step_failed"
	AuditStepSimulated AuditEventType = "step_simulated"

	AuditApprovalRequested AuditEventType = "approval_requested"
	AuditApprovalGranted   AuditEventType = "approval_granted"
	AuditApprovalDenied    AuditEventType = "approval_denied"
	AuditApprovalExpired   AuditEventType = "approval_expired"

	AuditRollbackStarted   AuditEventType = "rollback_started"
	AuditRollbackCompleted AuditEventType = "rollback_completed"
	AuditRollbackFailed    AuditEventType = "rollback_failed"

	AuditStateChanged AuditEventType = "state_changed"

	AuditSimulationStarted   AuditEventType = "simulation_started"
	AuditSimulationCompleted AuditEventType = "simulation_completed"
	AuditSimulationFailed    AuditEventType = "simulation_failed"

	AuditApprovalQueueCreated  AuditEventType = "approval_queue_created"
	AuditApprovalQueueExecuted AuditEventType = "approval_queue_executed"
)

// Success derives the success column for an event type: anything ending in
// _failed, plus approval_denied, is recorded as unsuccessful.
func (t AuditEventType) Success() bool {
	if strings.HasSuffix(string(t), "_failed") {
		return false
	}
	return t != AuditApprovalDenied
}

// AuditEntry is one row of the tamper-evident, hash-chained audit journal.
// Entries are append-only: never updated or deleted.
//
// Hash = SHA-256(prev_hash|event_type|execution_id|details_json|timestamp),
// where prev_hash is the hash of the most recent entry for the same
// execution_id, or empty for the first.
type AuditEntry struct {
	ID          int64           `json:"id" db:"id"`
	Timestamp   string          `json:"timestamp" db:"timestamp"`
	ExecutionID string          `json:"execution_id" db:"execution_id"`
	RunbookID   string          `json:"runbook_id" db:"runbook_id"`
	EventType   AuditEventType  `json:"event_type" db:"event_type"`
	Actor       string          `json:"actor" db:"actor"`
	Details     json.RawMessage `json:"details" db:"details"`
	Success     bool            `json:"success" db:"success"`
	PrevHash    string          `json:"prev_hash,omitempty" db:"prev_hash"`
	Hash        string          `json:"hash" db:"hash"`
}

// ParsedTimestamp returns the entry timestamp as a time.Time.
func (e *AuditEntry) ParsedTimestamp() (time.Time, error) {
	return time.Parse(TimestampFormat, e.Timestamp)
}
