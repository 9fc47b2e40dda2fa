package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/opsgate/opsgate/pkg/models"
	"github.com/opsgate/opsgate/pkg/queue"
	"github.com/opsgate/opsgate/pkg/sanitize"
)

// listApprovalsHandler handles GET /api/v1/approvals.
// Only pending entries are listed; terminal entries live in the audit trail.
func (s *Server) listApprovalsHandler(c *echo.Context) error {
	opts := queue.ListOptions{RunbookID: c.QueryParam("runbook_id")}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		opts.Limit = n
	}

	entries, err := s.queueExec.ListPendingApprovals(c.Request().Context(), opts)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &ApprovalListResponse{
		Approvals: entries,
		Count:     len(entries),
	})
}

// approveHandler handles POST /api/v1/approvals/:id/approve.
// Executes the frozen action and resumes the parked run before returning.
func (s *Server) approveHandler(c *echo.Context) error {
	requestID := c.Param("id")

	var req ApproveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Approver == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "approver field is required")
	}

	result, err := s.queueExec.ApproveAndExecute(c.Request().Context(), requestID, req.Approver)
	if err != nil {
		return mapServiceError(err)
	}

	if s.collectors != nil {
		s.collectors.ObserveApproval(models.ApprovalStatusApproved)
	}
	if result.Error != nil {
		result.Error = sanitize.Error(result.Error)
	}
	return c.JSON(http.StatusOK, result)
}

// denyHandler handles POST /api/v1/approvals/:id/deny.
func (s *Server) denyHandler(c *echo.Context) error {
	requestID := c.Param("id")

	var req DenyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Reason == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "reason field is required")
	}

	entry, err := s.queueExec.DenyRequest(c.Request().Context(), requestID, req.Reason)
	if err != nil {
		return mapServiceError(err)
	}

	if s.collectors != nil {
		s.collectors.ObserveApproval(models.ApprovalStatusDenied)
	}
	return c.JSON(http.StatusOK, &DenyResponse{
		RequestID:   entry.RequestID,
		ExecutionID: entry.ExecutionID,
		Status:      string(entry.Status),
		Reason:      req.Reason,
	})
}
