// Package api exposes the HTTP surface: the WebSocket endpoint carrying the
// duplex JSON protocol and a health endpoint.
package api

import (
	"context"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/aiblox/orchestrator/pkg/database"
)

// Server is the HTTP server wrapping the echo router.
type Server struct {
	echo           *echo.Echo
	httpServer     *http.Server
	dbClient       *database.Client
	connManager    *ConnectionManager
	allowedOrigins []string
}

// NewServer creates the API server and registers routes.
func NewServer(dbClient *database.Client, connManager *ConnectionManager) *Server {
	e := echo.New()
	e.Use(securityHeaders())

	s := &Server{
		echo:        e,
		dbClient:    dbClient,
		connManager: connManager,
	}

	e.GET("/health", s.healthHandler)
	e.GET("/ws", s.wsHandler)
	return s
}

// SetAllowedOrigins configures additional host patterns accepted during the
// WebSocket handshake. Browsers on the server's own host are always allowed;
// with no patterns set, every cross-origin handshake is rejected.
func (s *Server) SetAllowedOrigins(patterns []string) {
	s.allowedOrigins = patterns
}

// Start begins serving on addr. Blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			return next(c)
		}
	}
}
