package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opsgate/opsgate/pkg/adapter"
	"github.com/opsgate/opsgate/pkg/audit"
	"github.com/opsgate/opsgate/pkg/engine"
	"github.com/opsgate/opsgate/pkg/models"
)

// Resumer continues a parked execution after its approval gate resolves.
// The scheduler implements this; a nil Resumer leaves resumption to the
// caller.
type Resumer interface {
	// ResumeApproved continues the run after the gated step executed.
	ResumeApproved(ctx context.Context, entry *models.ApprovalQueueEntry, stepResult *models.StepResult) (*models.ExecutionResult, error)

	// ResumeDenied terminates the run with the given failure code.
	ResumeDenied(ctx context.Context, entry *models.ApprovalQueueEntry, code, reason string) (*models.ExecutionResult, error)
}

// Executor bridges approved queue entries to production execution of the
// single approved action.
type Executor struct {
	store    *Store
	registry *adapter.Registry
	audit    audit.Recorder
	resumer  Resumer
	logger   *slog.Logger

	now func() time.Time
}

// NewExecutor creates a queue executor. resumer may be nil when no run
// continuation is wired.
func NewExecutor(store *Store, registry *adapter.Registry, recorder audit.Recorder, resumer Resumer, logger *slog.Logger) *Executor {
	return &Executor{
		store:    store,
		registry: registry,
		audit:    recorder,
		resumer:  resumer,
		logger:   logger.With("component", "queue_executor"),
		now:      time.Now,
	}
}

// ApproveAndExecute approves a pending entry and executes exactly the
// frozen parameters in production mode. Adapter-level failures are carried
// in the result, not returned as a Go error; a Go error means the entry
// could not be approved or the result could not be recorded.
func (e *Executor) ApproveAndExecute(ctx context.Context, requestID, approver string) (*models.QueueExecutionResult, error) {
	entry, err := e.store.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if _, err := e.store.Approve(ctx, requestID, approver); err != nil {
		if errors.Is(err, ErrRequestExpired) {
			e.recordAudit(ctx, requestID, entry.ExecutionID, entry.RunbookID, models.AuditApprovalExpired, approver, map[string]any{
				"request_id": requestID,
				"step_id":    entry.StepID,
				"action":     entry.Action,
				"reason":     "approval arrived after expires_at",
			})
			if e.resumer != nil {
				if _, rerr := e.resumer.ResumeDenied(ctx, entry, engine.CodeApprovalExpired, "approval request expired"); rerr != nil {
					e.logger.Error("Failed to fail execution after expiry",
						"execution_id", entry.ExecutionID,
						"request_id", entry.RequestID,
						"error", rerr)
				}
			}
		}
		return nil, err
	}
	entry.Status = models.ApprovalStatusApproved

	e.recordAudit(ctx, requestID, entry.ExecutionID, entry.RunbookID, models.AuditApprovalGranted, approver, map[string]any{
		"request_id": entry.RequestID,
		"step_id":    entry.StepID,
		"action":     entry.Action,
	})

	result := e.executeApproved(ctx, entry, approver)

	eventType := models.AuditApprovalQueueExecuted
	details := map[string]any{
		"request_id": entry.RequestID,
		"step_id":    entry.StepID,
		"action":     entry.Action,
		// The audit row carries the approved payload verbatim.
		"parameters": json.RawMessage(entry.Parameters),
		"success":    result.Success,
	}
	if result.Error != nil {
		eventType = models.AuditStepFailed
		details["error_code"] = result.Error.Code
		details["error_message"] = result.Error.Message
	}
	e.recordAudit(ctx, requestID, entry.ExecutionID, entry.RunbookID, eventType, approver, details)

	if e.resumer != nil {
		stepResult := queueResultToStepResult(entry, result)
		if _, err := e.resumer.ResumeApproved(ctx, entry, stepResult); err != nil {
			e.logger.Error("Failed to resume execution after approval",
				"execution_id", entry.ExecutionID,
				"request_id", entry.RequestID,
				"error", err)
		}
	}

	return result, nil
}

// executeApproved runs the frozen action through the adapter registry.
func (e *Executor) executeApproved(ctx context.Context, entry *models.ApprovalQueueEntry, approver string) *models.QueueExecutionResult {
	result := &models.QueueExecutionResult{
		RequestID:   entry.RequestID,
		ExecutionID: entry.ExecutionID,
		Action:      entry.Action,
		ExecutedAt:  e.now().UTC(),
		ExecutedBy:  approver,
	}

	var params map[string]any
	if err := json.Unmarshal(entry.Parameters, &params); err != nil {
		result.Error = &models.StepError{
			Code:    engine.CodeInvalidInput,
			Message: fmt.Sprintf("frozen parameters are not valid JSON: %v", err),
		}
		return result
	}

	// The approver saw the step's named executor in the simulation report;
	// the approved write runs through that adapter and no other.
	a, err := e.registry.Get(entry.Executor)
	if err != nil {
		result.Error = &models.StepError{
			Code:    engine.CodeAdapterNotFound,
			Message: fmt.Sprintf("executor %q is not registered", entry.Executor),
		}
		return result
	}
	if !e.registry.Supports(entry.Executor, entry.Action) {
		result.Error = &models.StepError{
			Code:    engine.CodeAdapterNotFound,
			Message: fmt.Sprintf("adapter %q does not support action %q", entry.Executor, entry.Action),
		}
		return result
	}

	res, err := a.Execute(ctx, entry.Action, params, models.ModeProduction)
	if err != nil {
		code, retryable := engine.ClassifyAdapterError(err.Error())
		result.Error = &models.StepError{Code: code, Message: err.Error(), Retryable: retryable}
		return result
	}
	if res == nil {
		result.Error = &models.StepError{
			Code:    engine.CodeInternalError,
			Message: fmt.Sprintf("adapter %q returned no result", a.Name()),
		}
		return result
	}
	if !res.Success {
		stepErr := &models.StepError{Code: engine.CodeAdapterExecutionFailed, Message: "adapter reported failure"}
		if res.Error != nil {
			stepErr.Code = res.Error.Code
			stepErr.Message = res.Error.Message
			stepErr.Retryable = res.Error.Retryable
		}
		result.Error = stepErr
		result.Output = res.Output
		return result
	}

	result.Success = true
	result.Output = res.Output
	return result
}

// DenyRequest denies a pending entry, audits the denial, and fails the
// parked run.
func (e *Executor) DenyRequest(ctx context.Context, requestID, reason string) (*models.ApprovalQueueEntry, error) {
	entry, err := e.store.Deny(ctx, requestID, reason)
	if err != nil {
		return nil, err
	}

	e.recordAudit(ctx, requestID, entry.ExecutionID, entry.RunbookID, models.AuditApprovalDenied, audit.DefaultActor, map[string]any{
		"request_id": entry.RequestID,
		"step_id":    entry.StepID,
		"action":     entry.Action,
		"reason":     reason,
	})

	if e.resumer != nil {
		if _, err := e.resumer.ResumeDenied(ctx, entry, engine.CodeApprovalDenied, reason); err != nil {
			e.logger.Error("Failed to fail execution after denial",
				"execution_id", entry.ExecutionID,
				"request_id", entry.RequestID,
				"error", err)
		}
	}
	return entry, nil
}

// ListPendingApprovals passes through to the store.
func (e *Executor) ListPendingApprovals(ctx context.Context, opts ListOptions) ([]models.ApprovalQueueEntry, error) {
	return e.store.ListPending(ctx, opts)
}

// ExpireStale expires overdue pending entries, audits each expiry, fails
// the parked runs, and returns the count.
func (e *Executor) ExpireStale(ctx context.Context) (int, error) {
	expired, err := e.store.ExpireStale(ctx)
	if err != nil {
		return 0, err
	}

	for i := range expired {
		entry := &expired[i]
		e.recordAudit(ctx, entry.RequestID, entry.ExecutionID, entry.RunbookID, models.AuditApprovalExpired, audit.DefaultActor, map[string]any{
			"request_id": entry.RequestID,
			"step_id":    entry.StepID,
			"action":     entry.Action,
			"expires_at": models.FormatTimestamp(entry.ExpiresAt),
		})
		if e.resumer != nil {
			if _, err := e.resumer.ResumeDenied(ctx, entry, engine.CodeApprovalExpired, "approval request expired"); err != nil {
				e.logger.Error("Failed to fail execution after expiry",
					"execution_id", entry.ExecutionID,
					"request_id", entry.RequestID,
					"error", err)
			}
		}
	}
	return len(expired), nil
}

func (e *Executor) recordAudit(ctx context.Context, requestID, executionID, runbookID string, eventType models.AuditEventType, actor string, details map[string]any) {
	if e.audit == nil {
		return
	}
	_, err := e.audit.Record(ctx, audit.Event{
		ExecutionID: executionID,
		RunbookID:   runbookID,
		Type:        eventType,
		Actor:       actor,
		Details:     details,
	})
	if err != nil {
		e.logger.Error("Failed to record audit event",
			"request_id", requestID,
			"event_type", string(eventType),
			"error", err)
	}
}

// queueResultToStepResult converts a queue outcome into the immutable step
// record the scheduler resumes with.
func queueResultToStepResult(entry *models.ApprovalQueueEntry, res *models.QueueExecutionResult) *models.StepResult {
	sr := &models.StepResult{
		StepID:      entry.StepID,
		StepName:    entry.StepName,
		Action:      entry.Action,
		Success:     res.Success,
		StartedAt:   res.ExecutedAt,
		CompletedAt: res.ExecutedAt,
		Output:      res.Output,
		Error:       res.Error,
	}
	return sr
}
