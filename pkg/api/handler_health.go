package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/bridgy/pkg/database"
	"github.com/codeready-toolchain/bridgy/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health.
//
// Database failure makes the process unhealthy (503). Unreachable MCP
// servers only degrade it: they are external dependencies, and reporting
// them as fatal would invite the orchestrator to restart a bridge that is
// working for every other server.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	var dbHealth *database.HealthStatus
	if s.dbClient != nil {
		dbStatus, err := s.dbClient.Health(reqCtx)
		dbHealth = dbStatus
		if err != nil {
			status = healthStatusUnhealthy
			checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
		} else {
			checks["database"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	response := &HealthResponse{
		Version:  version.GitCommit,
		Checks:   checks,
		Database: dbHealth,
	}

	snap := s.snapshots.Snapshot()
	stats := snap.Stats()
	response.Configuration = ConfigurationStats{
		MCPServers: stats.MCPServers,
		Roles:      stats.Roles,
		Users:      stats.Users,
	}

	if s.healthMonitor != nil {
		response.MCPServers = s.healthMonitor.Statuses()
		if s.healthMonitor.IsHealthy() {
			checks["mcp"] = HealthCheck{Status: healthStatusHealthy}
		} else {
			if status == healthStatusHealthy {
				status = healthStatusDegraded
			}
			checks["mcp"] = HealthCheck{Status: healthStatusDegraded, Message: "one or more MCP servers are unhealthy"}
		}
	}

	if s.warningService != nil {
		response.Warnings = s.warningService.Active()
	}

	if s.recorder != nil {
		recorderStats := s.recorder.Stats()
		response.AuditQueue = &recorderStats
	}

	response.Status = status

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	return c.JSON(httpStatus, response)
}
