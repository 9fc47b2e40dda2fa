// Package metrics exposes engine counters and histograms via prometheus
// and periodically persists execution rollups to the metrics table.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/opsgate/opsgate/pkg/models"
)

// Collectors holds the engine's prometheus instruments.
type Collectors struct {
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration prometheus.Histogram
	StepsTotal        *prometheus.CounterVec
	ApprovalsTotal    *prometheus.CounterVec
	PendingApprovals  prometheus.Gauge
	AuditEventsTotal  *prometheus.CounterVec
}

// NewCollectors creates and registers the engine collectors.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opsgate",
			Name:      "executions_total",
			Help:      "Terminal runbook executions by state and mode.",
		}, []string{"state", "mode"}),
		ExecutionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "opsgate",
			Name:      "execution_duration_seconds",
			Help:      "Wall time of terminal runbook executions.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		StepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opsgate",
			Name:      "steps_total",
			Help:      "Step attempts by action and outcome.",
		}, []string{"action", "outcome"}),
		ApprovalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opsgate",
			Name:      "approvals_total",
			Help:      "Approval queue transitions by terminal status.",
		}, []string{"status"}),
		PendingApprovals: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "opsgate",
			Name:      "approvals_pending",
			Help:      "Approval entries currently awaiting a decision.",
		}),
		AuditEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opsgate",
			Name:      "audit_events_total",
			Help:      "Audit journal entries by event type.",
		}, []string{"event_type"}),
	}
	reg.MustRegister(
		c.ExecutionsTotal,
		c.ExecutionDuration,
		c.StepsTotal,
		c.ApprovalsTotal,
		c.PendingApprovals,
		c.AuditEventsTotal,
	)
	return c
}

// ObserveExecution records one terminal execution result.
func (c *Collectors) ObserveExecution(result *models.ExecutionResult, mode models.ExecutionMode) {
	if result == nil || !result.State.IsTerminal() {
		return
	}
	c.ExecutionsTotal.WithLabelValues(string(result.State), string(mode)).Inc()
	c.ExecutionDuration.Observe(float64(result.DurationMS) / 1000)
	for _, step := range result.StepsExecuted {
		c.StepsTotal.WithLabelValues(step.Action, stepOutcome(step)).Inc()
	}
}

// ObserveApproval records one approval queue terminal transition.
func (c *Collectors) ObserveApproval(status models.ApprovalStatus) {
	c.ApprovalsTotal.WithLabelValues(string(status)).Inc()
}

func stepOutcome(step models.StepResult) string {
	switch {
	case step.Skipped:
		return "skipped"
	case step.Success:
		return "success"
	default:
		return "failed"
	}
}
