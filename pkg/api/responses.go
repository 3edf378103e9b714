package api

import (
	"github.com/streamguard/streamguard/pkg/database"
	"github.com/streamguard/streamguard/pkg/hub"
	"github.com/streamguard/streamguard/pkg/models"
	"github.com/streamguard/streamguard/pkg/patterns"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string                 `json:"status"`
	Version  string                 `json:"version"`
	Database *database.HealthStatus `json:"database,omitempty"`
	Checks   map[string]HealthCheck `json:"checks"`
}

// HealthCheck is one component's health entry.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// FilterStatsResponse is returned by GET /api/v1/filter/stats.
type FilterStatsResponse struct {
	Patterns         patterns.Stats `json:"patterns"`
	RateLimitedUsers int            `json:"rate_limited_users"`
	Hub              hub.Stats      `json:"hub"`
}

// ViolationsResponse is returned by GET /api/v1/users/:id/violations.
type ViolationsResponse struct {
	UserID     string                 `json:"user_id"`
	Counts     *models.HistoryCounts  `json:"counts"`
	Violations []models.UserViolation `json:"violations"`
}

// SimulateResponse is returned by the simulation endpoints.
type SimulateResponse struct {
	ChannelID string   `json:"channel_id"`
	Status    string   `json:"status"`
	Running   []string `json:"running"`
}
