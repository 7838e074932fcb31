package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/aiblox/orchestrator/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health. Minimal unauthenticated response: only
// our own components are checked, never external back-ends.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	status := healthStatusHealthy
	httpStatus := http.StatusOK

	var dbStatus any
	if s.dbClient != nil {
		health, err := s.dbClient.Health(reqCtx)
		dbStatus = health
		if err != nil {
			status = healthStatusUnhealthy
			httpStatus = http.StatusServiceUnavailable
		}
	}

	body := map[string]any{
		"status":   status,
		"version":  version.Full(),
		"database": dbStatus,
	}
	if s.connManager != nil {
		body["active_connections"] = s.connManager.ActiveConnections()
	}
	return c.JSON(httpStatus, body)
}
