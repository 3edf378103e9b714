package api

import (
	"fmt"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/streamguard/streamguard/pkg/models"
)

// moderateHandler handles POST /api/v1/moderate.
// Runs the full pipeline for one message and returns the processed event.
// The event has also been published to WebSocket subscribers of the channel.
func (s *Server) moderateHandler(c *echo.Context) error {
	var req ModerateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.UserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id field is required")
	}
	if req.ChannelID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "channel_id field is required")
	}
	if len(req.Metadata) > models.MaxMetadataEntries {
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("metadata exceeds maximum of %d entries", models.MaxMetadataEntries))
	}

	event, err := s.orchestrator.Process(c.Request().Context(), req.toMessage())
	if err != nil {
		return mapPipelineError(err)
	}
	return c.JSON(http.StatusOK, event)
}

// filterHandler handles POST /api/v1/filter.
// Runs only the deterministic filter stage; nothing is persisted, published,
// or sent to the LLM.
func (s *Server) filterHandler(c *echo.Context) error {
	var req ModerateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.UserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id field is required")
	}

	msg := req.toMessage()
	outcome := s.filterSvc.Evaluate(c.Request().Context(), &msg)
	return c.JSON(http.StatusOK, outcome)
}

// decideHandler handles POST /api/v1/decide.
// Dry-runs the policy engine against caller-supplied inputs.
func (s *Server) decideHandler(c *echo.Context) error {
	var req DecideRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Verdict.Decision == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "verdict.decision field is required")
	}
	if req.History.BySeverity == nil {
		req.History.BySeverity = map[models.Severity]int{}
	}

	action := s.engine.Decide(&req.Verdict, &req.Filter, &req.History)
	return c.JSON(http.StatusOK, action)
}
