package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// listRunbooksHandler handles GET /api/v1/runbooks.
// Returns the latest registered version of every runbook.
func (s *Server) listRunbooksHandler(c *echo.Context) error {
	books := s.runbooks.List()

	summaries := make([]RunbookSummary, 0, len(books))
	for _, rb := range books {
		summaries = append(summaries, RunbookSummary{
			ID:              rb.ID,
			Version:         rb.Version,
			Name:            rb.Name,
			Description:     rb.Description,
			AutomationLevel: string(rb.Config.AutomationLevel),
			Techniques:      rb.Techniques,
			Steps:           len(rb.Steps),
		})
	}
	return c.JSON(http.StatusOK, &RunbookListResponse{
		Runbooks: summaries,
		Count:    len(summaries),
	})
}
