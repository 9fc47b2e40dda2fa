package metrics

import (
	"context"

	"github.com/opsgate/opsgate/pkg/audit"
	"github.com/opsgate/opsgate/pkg/models"
)

// AuditRecorder decorates an audit recorder and counts every journal write.
// The audit write always happens first; a failed write is never counted.
type AuditRecorder struct {
	inner audit.Recorder
	c     *Collectors
}

// NewAuditRecorder wraps inner with the given collectors.
func NewAuditRecorder(inner audit.Recorder, c *Collectors) *AuditRecorder {
	return &AuditRecorder{inner: inner, c: c}
}

// Record forwards to the wrapped recorder, then bumps audit_events_total and
// tracks the pending-approval gauge. One approval_requested event is always
// closed by exactly one granted, denied, or expired event, so the gauge
// follows the journal.
func (r *AuditRecorder) Record(ctx context.Context, event audit.Event) (*models.AuditEntry, error) {
	entry, err := r.inner.Record(ctx, event)
	if err != nil {
		return entry, err
	}

	r.c.AuditEventsTotal.WithLabelValues(string(event.Type)).Inc()
	switch event.Type {
	case models.AuditApprovalRequested:
		r.c.PendingApprovals.Inc()
	case models.AuditApprovalGranted, models.AuditApprovalDenied, models.AuditApprovalExpired:
		r.c.PendingApprovals.Dec()
	}
	return entry, nil
}
