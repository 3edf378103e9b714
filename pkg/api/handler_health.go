package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/streamguard/streamguard/pkg/database"
	"github.com/streamguard/streamguard/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health.
// Only streamguard's own components are checked. The upstream LLM is
// reported via the breaker state but never fails the probe: an open circuit
// degrades the pipeline to filter-only operation, it does not make the
// service unhealthy.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	var dbStatus *database.HealthStatus
	if s.dbClient != nil {
		health, err := s.dbClient.Health(reqCtx)
		dbStatus = health
		if err != nil {
			status = healthStatusUnhealthy
			checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
		} else {
			checks["database"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	breakerState := s.llmClient.BreakerState()
	if breakerState != "closed" {
		if status == healthStatusHealthy {
			status = healthStatusDegraded
		}
		checks["llm"] = HealthCheck{Status: healthStatusDegraded, Message: "circuit " + breakerState}
	} else {
		checks["llm"] = HealthCheck{Status: healthStatusHealthy}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, &HealthResponse{
		Status:   status,
		Version:  version.GitCommit,
		Database: dbStatus,
		Checks:   checks,
	})
}
