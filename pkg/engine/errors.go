// Package engine implements the runbook execution core: the per-run
// execution context, the step executor, the state machine, and the
// scheduler that drives a runbook from validation to completion.
package engine

import (
	"errors"
	"strings"
)

// Error codes surfaced in results and audit details.
const (
	CodeExecTimeout          = "EXEC_TIMEOUT"
	CodeExecCancelled        = "EXEC_CANCELLED"
	CodeExecValidationFailed = "EXEC_VALIDATION_FAILED"
	CodeExecStateInvalid     = "EXEC_STATE_INVALID"

	CodeAdapterTimeout         = "ADAPTER_TIMEOUT"
	CodeAdapterConnection      = "ADAPTER_CONNECTION"
	CodeAdapterAuth            = "ADAPTER_AUTH"
	CodeAdapterRateLimit       = "ADAPTER_RATE_LIMIT"
	CodeAdapterNotFound        = "ADAPTER_NOT_FOUND"
	CodeAdapterExecutionFailed = "ADAPTER_EXECUTION_FAILED"

	CodePlaybookNotFound   = "PLAYBOOK_NOT_FOUND"
	CodePlaybookInvalid    = "PLAYBOOK_INVALID"
	CodePlaybookStepFailed = "PLAYBOOK_STEP_FAILED"

	CodeApprovalTimeout = "APPROVAL_TIMEOUT"
	CodeApprovalDenied  = "APPROVAL_DENIED"
	CodeApprovalExpired = "APPROVAL_EXPIRED"

	CodeStepTimeout         = "STEP_TIMEOUT"
	CodeStepExecutionError  = "STEP_EXECUTION_ERROR"
	CodeStepExecutionFailed = "STEP_EXECUTION_FAILED"

	CodeInternalError = "INTERNAL_ERROR"
	CodeInvalidInput  = "INVALID_INPUT"
)

// Sentinel errors for scheduler operations.
var (
	// ErrInvalidTransition indicates a state transition outside the allowed
	// graph; always a programming error.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrExecutionNotFound indicates a resume call for an unknown run.
	ErrExecutionNotFound = errors.New("execution not found")
)

// ClassifyAdapterError maps a raw adapter error message onto the taxonomy.
// Returns the error code and whether the failure is retryable.
func ClassifyAdapterError(message string) (code string, retryable bool) {
	lower := strings.ToLower(message)

	switch {
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "etimedout"):
		return CodeAdapterTimeout, true
	case strings.Contains(lower, "econnrefused") || strings.Contains(lower, "econnreset"):
		return CodeAdapterConnection, true
	case strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "auth"):
		return CodeAdapterAuth, false
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit"):
		return CodeAdapterRateLimit, true
	default:
		return CodeInternalError, false
	}
}
