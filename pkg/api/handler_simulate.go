package api

import (
	"context"
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// simulateStartHandler handles POST /api/v1/simulate/start.
func (s *Server) simulateStartHandler(c *echo.Context) error {
	var req SimulateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ChannelID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "channel_id field is required")
	}

	// The generator outlives the request; it stops via the stop endpoint or
	// Manager.StopAll during shutdown.
	status := "started"
	if !s.simulator.Start(context.Background(), req.ChannelID) {
		status = "already_running"
	}
	return c.JSON(http.StatusOK, &SimulateResponse{
		ChannelID: req.ChannelID,
		Status:    status,
		Running:   s.simulator.Running(),
	})
}

// simulateStopHandler handles POST /api/v1/simulate/stop.
func (s *Server) simulateStopHandler(c *echo.Context) error {
	var req SimulateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ChannelID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "channel_id field is required")
	}

	status := "stopped"
	if !s.simulator.Stop(req.ChannelID) {
		status = "not_running"
	}
	return c.JSON(http.StatusOK, &SimulateResponse{
		ChannelID: req.ChannelID,
		Status:    status,
		Running:   s.simulator.Running(),
	})
}
