package api

import (
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/opsgate/opsgate/pkg/audit"
	"github.com/opsgate/opsgate/pkg/engine"
	"github.com/opsgate/opsgate/pkg/models"
	"github.com/opsgate/opsgate/pkg/sanitize"
)

// triggerExecutionHandler handles POST /api/v1/executions.
// Runs the runbook synchronously; a run parked on an approval gate returns
// 202 with the pending request id instead of a terminal result.
func (s *Server) triggerExecutionHandler(c *echo.Context) error {
	var req TriggerExecutionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.RunbookID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "runbook_id field is required")
	}

	rb, err := s.resolveRunbook(req.RunbookID, req.RunbookVersion)
	if err != nil {
		return mapServiceError(err)
	}

	mode := models.ExecutionMode(req.Mode)
	trigger := models.TriggerRequest{
		Runbook:       rb,
		Alert:         req.Alert,
		Mode:          mode,
		LevelOverride: models.AutomationLevel(req.AutomationLevelOverride),
	}

	result, err := s.scheduler.Execute(c.Request().Context(), trigger)
	if err != nil {
		if strings.Contains(err.Error(), engine.CodeInvalidInput) {
			return echo.NewHTTPError(http.StatusBadRequest, sanitize.String(err.Error()))
		}
		return mapServiceError(err)
	}

	if s.collectors != nil {
		observedMode := mode
		if observedMode == "" {
			observedMode = models.ModeProduction
		}
		s.collectors.ObserveExecution(result, observedMode)
	}

	httpStatus := http.StatusOK
	if result.Pending() {
		httpStatus = http.StatusAccepted
	}
	return c.JSON(httpStatus, sanitize.ExecutionResult(result))
}

// resolveRunbook looks up the requested runbook, falling back to the latest
// registered version when none is given.
func (s *Server) resolveRunbook(id, ver string) (*models.Runbook, error) {
	if ver != "" {
		return s.runbooks.Get(id, ver)
	}
	return s.runbooks.Latest(id)
}

// listExecutionsHandler handles GET /api/v1/executions.
func (s *Server) listExecutionsHandler(c *echo.Context) error {
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}

	state := c.QueryParam("state")
	if state != "" && !models.ExecutionState(state).IsValid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown execution state")
	}

	records, err := s.execSvc.ListExecutions(c.Request().Context(), state, limit)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &ExecutionListResponse{
		Executions: records,
		Count:      len(records),
	})
}

// getExecutionHandler handles GET /api/v1/executions/:id.
func (s *Server) getExecutionHandler(c *echo.Context) error {
	executionID := c.Param("id")

	record, err := s.execSvc.GetExecution(c.Request().Context(), executionID)
	if err != nil {
		return mapServiceError(err)
	}
	steps, err := s.execSvc.GetStepResults(c.Request().Context(), executionID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &ExecutionDetailResponse{
		Execution: record,
		Steps:     steps,
	})
}

// getAuditLogHandler handles GET /api/v1/executions/:id/audit.
// The response always carries the chain verification verdict so a reader
// cannot consume a tampered trail without noticing.
func (s *Server) getAuditLogHandler(c *echo.Context) error {
	executionID := c.Param("id")

	entries, err := s.auditLog.GetExecutionLog(c.Request().Context(), executionID)
	if err != nil {
		return mapServiceError(err)
	}
	if len(entries) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "no audit entries for execution")
	}

	verdict := audit.VerifyChain(entries)
	return c.JSON(http.StatusOK, &AuditLogResponse{
		ExecutionID: executionID,
		Entries:     entries,
		ChainValid:  verdict.Valid,
	})
}
