package api

import (
	"github.com/opsgate/opsgate/pkg/database"
	"github.com/opsgate/opsgate/pkg/models"
	"github.com/opsgate/opsgate/pkg/services"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string                 `json:"status"`
	Version  string                 `json:"version"`
	Database *database.HealthStatus `json:"database"`
	Runbooks int                    `json:"runbooks"`
}

// ExecutionListResponse is returned by GET /api/v1/executions.
type ExecutionListResponse struct {
	Executions []services.ExecutionRecord `json:"executions"`
	Count      int                        `json:"count"`
}

// ExecutionDetailResponse is returned by GET /api/v1/executions/:id.
type ExecutionDetailResponse struct {
	Execution *services.ExecutionRecord   `json:"execution"`
	Steps     []services.StepResultRecord `json:"steps"`
}

// AuditLogResponse is returned by GET /api/v1/executions/:id/audit.
type AuditLogResponse struct {
	ExecutionID string              `json:"execution_id"`
	Entries     []models.AuditEntry `json:"entries"`
	ChainValid  bool                `json:"chain_valid"`
}

// ApprovalListResponse is returned by GET /api/v1/approvals.
type ApprovalListResponse struct {
	Approvals []models.ApprovalQueueEntry `json:"approvals"`
	Count     int                         `json:"count"`
}

// DenyResponse is returned by POST /api/v1/approvals/:id/deny.
type DenyResponse struct {
	RequestID   string `json:"request_id"`
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
}

// RunbookSummary is one entry of GET /api/v1/runbooks.
type RunbookSummary struct {
	ID              string   `json:"id"`
	Version         string   `json:"version"`
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	AutomationLevel string   `json:"automation_level"`
	Techniques      []string `json:"mitre_techniques,omitempty"`
	Steps           int      `json:"steps"`
}

// RunbookListResponse is returned by GET /api/v1/runbooks.
type RunbookListResponse struct {
	Runbooks []RunbookSummary `json:"runbooks"`
	Count    int              `json:"count"`
}
