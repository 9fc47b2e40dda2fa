package slack

import (
	"context"

	"github.com/opsgate/opsgate/pkg/audit"
	"github.com/opsgate/opsgate/pkg/models"
)

// Notifier decorates an audit recorder and mirrors lifecycle events to the
// Slack channel. The audit write always happens first; notification
// delivery never affects the recorded entry.
type Notifier struct {
	inner audit.Recorder
	svc   *Service
}

// NewNotifier wraps inner. A nil service turns the wrapper into a pure
// passthrough.
func NewNotifier(inner audit.Recorder, svc *Service) *Notifier {
	return &Notifier{inner: inner, svc: svc}
}

// Record forwards to the wrapped recorder and fans selected event types out
// to Slack.
func (n *Notifier) Record(ctx context.Context, event audit.Event) (*models.AuditEntry, error) {
	entry, err := n.inner.Record(ctx, event)
	if err != nil {
		return entry, err
	}
	n.notify(ctx, event)
	return entry, nil
}

func (n *Notifier) notify(ctx context.Context, event audit.Event) {
	switch event.Type {
	case models.AuditExecutionStarted:
		n.svc.NotifyExecutionStarted(ctx, ExecutionStartedInput{
			ExecutionID: event.ExecutionID,
			RunbookID:   event.RunbookID,
			RunbookName: detailString(event.Details, "runbook_name"),
			Mode:        detailString(event.Details, "mode"),
		})
	case models.AuditApprovalRequested:
		n.svc.NotifyApprovalRequested(ctx, ApprovalRequestedInput{
			ExecutionID: event.ExecutionID,
			RequestID:   detailString(event.Details, "request_id"),
			StepID:      detailString(event.Details, "step_id"),
			Action:      detailString(event.Details, "action"),
			ExpiresAt:   detailString(event.Details, "expires_at"),
		})
	case models.AuditExecutionCompleted:
		n.svc.NotifyExecutionFinished(ctx, ExecutionFinishedInput{
			ExecutionID: event.ExecutionID,
			RunbookName: event.RunbookID,
			Status:      string(models.StateCompleted),
		})
	case models.AuditExecutionFailed:
		n.svc.NotifyExecutionFinished(ctx, ExecutionFinishedInput{
			ExecutionID:  event.ExecutionID,
			RunbookName:  event.RunbookID,
			Status:       detailString(event.Details, "state"),
			ErrorMessage: detailString(event.Details, "error_message"),
		})
	}
}

func detailString(details map[string]any, key string) string {
	if details == nil {
		return ""
	}
	if v, ok := details[key].(string); ok {
		return v
	}
	return ""
}
