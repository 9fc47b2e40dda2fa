package api

import (
	"github.com/opsgate/opsgate/pkg/models"
)

// TriggerExecutionRequest is the HTTP request body for POST /api/v1/executions.
type TriggerExecutionRequest struct {
	RunbookID      string `json:"runbook_id"`
	RunbookVersion string `json:"runbook_version,omitempty"`

	// Mode defaults to production when empty.
	Mode string `json:"mode,omitempty"`

	// AutomationLevelOverride replaces the runbook's automation level for
	// this run only.
	AutomationLevelOverride string `json:"automation_level_override,omitempty"`

	Alert *models.AlertEvent `json:"alert,omitempty"`
}

// ApproveRequest is the HTTP request body for POST /api/v1/approvals/:id/approve.
type ApproveRequest struct {
	Approver string `json:"approver"`
}

// DenyRequest is the HTTP request body for POST /api/v1/approvals/:id/deny.
type DenyRequest struct {
	Reason string `json:"reason"`
}
