// Package api exposes the reply workflow over HTTP: inbound intake, the
// approval queue, policy management, profiles, and stats.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/replydesk/internal/engine"
	"github.com/replydesk/internal/jobqueue"
	"github.com/replydesk/internal/profiles"
	"github.com/replydesk/internal/stats"
)

// Server represents the API server
type Server struct {
	echo     *echo.Echo
	port     int
	engine   *engine.Engine
	queue    *jobqueue.JobQueue
	profiles profiles.Store
	stats    *stats.Aggregator
}

// NewServer creates a new API server. queue and stats may be nil (tests,
// single-shot tools); the corresponding endpoints then degrade gracefully.
func NewServer(port int, eng *engine.Engine, queue *jobqueue.JobQueue, profileStore profiles.Store, aggregator *stats.Aggregator) *Server {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo:     e,
		port:     port,
		engine:   eng,
		queue:    queue,
		profiles: profileStore,
		stats:    aggregator,
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	// API v1 group
	v1 := s.echo.Group("/api/v1")

	// Inbound intake
	v1.POST("/inbound", s.handleInbound)

	// Thread lifecycle
	v1.GET("/threads/pending", s.listPendingThreads)
	v1.GET("/threads/recent", s.listRecentThreads)
	v1.GET("/threads/:id", s.getThread)
	v1.POST("/threads/:id/approve", s.approveThread)
	v1.POST("/threads/:id/reject", s.rejectThread)

	// Policies
	v1.GET("/policy/:user_id", s.getPolicy)
	v1.PUT("/policy/:user_id", s.putPolicy)

	// Counterpart profiles
	v1.GET("/profiles", s.listProfiles)
	v1.GET("/profiles/:email", s.getProfile)
	v1.PUT("/profiles/:email", s.upsertProfile)

	// Reporting
	v1.GET("/stats/:user_id", s.getStats)
}

// Start begins the API server and blocks until an interrupt arrives
func (s *Server) Start() error {
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && err != http.ErrServerClosed {
			s.echo.Logger.Fatal("shutting down the server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}
