// Package api is the HTTP surface of the engine: triggering executions,
// reading their state and audit trail, and working the approval queue.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/opsgate/opsgate/pkg/audit"
	"github.com/opsgate/opsgate/pkg/database"
	"github.com/opsgate/opsgate/pkg/engine"
	"github.com/opsgate/opsgate/pkg/metrics"
	"github.com/opsgate/opsgate/pkg/queue"
	"github.com/opsgate/opsgate/pkg/runbook"
	"github.com/opsgate/opsgate/pkg/services"
)

// Server wires the HTTP handlers to the engine components.
type Server struct {
	dbClient   *database.Client
	scheduler  *engine.Scheduler
	runbooks   *runbook.Registry
	queueExec  *queue.Executor
	execSvc    *services.ExecutionService
	auditLog   *audit.Logger
	collectors *metrics.Collectors
	logger     *slog.Logger

	metricsHandler http.Handler
	httpServer     *http.Server
}

// NewServer creates the API server. collectors may be nil when metrics are
// not wired.
func NewServer(
	dbClient *database.Client,
	scheduler *engine.Scheduler,
	runbooks *runbook.Registry,
	queueExec *queue.Executor,
	execSvc *services.ExecutionService,
	auditLog *audit.Logger,
	collectors *metrics.Collectors,
	logger *slog.Logger,
) *Server {
	return &Server{
		dbClient:   dbClient,
		scheduler:  scheduler,
		runbooks:   runbooks,
		queueExec:  queueExec,
		execSvc:    execSvc,
		auditLog:   auditLog,
		collectors: collectors,
		logger:     logger.With("component", "api"),
	}
}

// RegisterRoutes mounts every handler on the echo instance.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.Use(securityHeaders())
	e.Use(requestLogger(s.logger))

	e.GET("/health", s.healthHandler)

	v1 := e.Group("/api/v1")
	v1.POST("/executions", s.triggerExecutionHandler)
	v1.GET("/executions", s.listExecutionsHandler)
	v1.GET("/executions/:id", s.getExecutionHandler)
	v1.GET("/executions/:id/audit", s.getAuditLogHandler)

	v1.GET("/approvals", s.listApprovalsHandler)
	v1.POST("/approvals/:id/approve", s.approveHandler)
	v1.POST("/approvals/:id/deny", s.denyHandler)

	v1.GET("/runbooks", s.listRunbooksHandler)

	if s.metricsHandler != nil {
		e.GET("/metrics", func(c *echo.Context) error {
			s.metricsHandler.ServeHTTP(c.Response(), c.Request())
			return nil
		})
	}
}

// SetMetricsHandler mounts a Prometheus scrape handler at /metrics. Must be
// called before Start.
func (s *Server) SetMetricsHandler(h http.Handler) {
	s.metricsHandler = h
}

// Start serves the API on addr and blocks until the listener closes.
func (s *Server) Start(addr string, readTimeout, writeTimeout time.Duration) error {
	e := echo.New()
	s.RegisterRoutes(e)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
