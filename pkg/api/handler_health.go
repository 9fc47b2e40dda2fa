package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/opsgate/opsgate/pkg/database"
	"github.com/opsgate/opsgate/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health.
// Only the engine's own store is checked; adapter targets are external and
// their reachability must not flip the engine to unhealthy.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	status := healthStatusHealthy
	dbHealth, err := database.Health(reqCtx, s.dbClient.DB())
	if err != nil {
		status = healthStatusUnhealthy
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, &HealthResponse{
		Status:   status,
		Version:  version.GitCommit,
		Database: &dbHealth,
		Runbooks: s.runbooks.Size(),
	})
}
