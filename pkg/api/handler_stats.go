package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/streamguard/streamguard/pkg/models"
)

// violationHistoryWindow bounds the GET violations listing.
const (
	violationHistoryWindow = 30 * 24 * time.Hour
	violationHistoryLimit  = 100
)

// filterStatsHandler handles GET /api/v1/filter/stats.
func (s *Server) filterStatsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &FilterStatsResponse{
		Patterns:         s.filterSvc.PatternStats(),
		RateLimitedUsers: s.filterSvc.ActiveRateLimitedUsers(c.Request().Context()),
		Hub:              s.eventHub.Stats(),
	})
}

// userViolationsHandler handles GET /api/v1/users/:id/violations.
// Returns the user's history counts plus recent violation records.
func (s *Server) userViolationsHandler(c *echo.Context) error {
	userID := c.Param("id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user id is required")
	}

	ctx := c.Request().Context()
	counts, err := s.violations.Counts(ctx, userID)
	if err != nil {
		return mapPipelineError(err)
	}
	recent, err := s.violations.Recent(ctx, userID, violationHistoryWindow, violationHistoryLimit)
	if err != nil {
		return mapPipelineError(err)
	}
	if recent == nil {
		recent = []models.UserViolation{}
	}

	return c.JSON(http.StatusOK, &ViolationsResponse{
		UserID:     userID,
		Counts:     counts,
		Violations: recent,
	})
}

// listTemplatesHandler handles GET /api/v1/templates.
func (s *Server) listTemplatesHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.templates.List())
}
