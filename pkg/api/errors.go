package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/opsgate/opsgate/pkg/queue"
	"github.com/opsgate/opsgate/pkg/runbook"
	"github.com/opsgate/opsgate/pkg/sanitize"
	"github.com/opsgate/opsgate/pkg/services"
)

// mapServiceError maps service-layer errors to HTTP error responses.
// Messages that cross this boundary are sanitized.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, sanitize.String(validErr.Error()))
	}
	if errors.Is(err, services.ErrNotFound) || errors.Is(err, queue.ErrRequestNotFound) ||
		errors.Is(err, runbook.ErrRunbookNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, queue.ErrRequestNotPending) {
		return echo.NewHTTPError(http.StatusConflict, "approval request is not pending")
	}
	if errors.Is(err, queue.ErrRequestExpired) {
		return echo.NewHTTPError(http.StatusGone, "approval request expired")
	}
	if errors.Is(err, services.ErrConflict) {
		return echo.NewHTTPError(http.StatusConflict, "resource is in a conflicting state")
	}
	if errors.Is(err, services.ErrAlreadyExists) {
		return echo.NewHTTPError(http.StatusConflict, "resource already exists")
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
