// Package http exposes the workflow engine to domain modules and approvers.
// Handlers translate requests into engine calls and engine errors into
// status codes.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/garyjia/approval-engine/internal/application/definition"
	"github.com/garyjia/approval-engine/internal/application/port"
	appworkflow "github.com/garyjia/approval-engine/internal/application/workflow"
)

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "X-Request-ID"

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Dependencies are the application services the API serves
type Dependencies struct {
	Engine      appworkflow.WorkflowEngine
	Definitions definition.Store
	Statuses    port.RequestStatusRepository
	Exporter    port.AuditExporter

	// Gatherer backs /metrics; nil disables the endpoint
	Gatherer prometheus.Gatherer

	// Health reports component health; nil means always healthy
	Health func(ctx context.Context) map[string]error
}

// Server serves the API on one listener
type Server struct {
	config ServerConfig
	router *gin.Engine
	deps   Dependencies
	logger Logger

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// NewServer builds the router. Nothing listens until Start.
func NewServer(config ServerConfig, deps Dependencies, logger Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultServerConfig().ShutdownTimeout
	}

	s := &Server{
		config: config,
		router: gin.New(),
		deps:   deps,
		logger: logger,
	}

	s.router.Use(gin.Recovery(), requestID(), s.accessLog())
	s.routes()
	return s
}

// requestID reuses the caller's X-Request-ID or assigns a new one
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDHeader, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		kv := []interface{}{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"request_id", c.GetString(RequestIDHeader),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			s.logger.Error("HTTP request failed", kv...)
			return
		}
		s.logger.Info("HTTP request", kv...)
	}
}

func (s *Server) routes() {
	h := NewHandlers(s.deps, s.logger)

	s.router.GET("/health", h.HealthCheck)
	if s.deps.Gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	api := s.router.Group("/api/v1")

	instances := api.Group("/instances")
	instances.POST("", h.Submit)
	instances.GET("/:id", h.GetInstance)
	instances.POST("/:id/submit", h.SubmitDraft)
	instances.POST("/:id/decisions", h.Decide)
	instances.POST("/:id/escalate", h.Escalate)
	instances.POST("/:id/cancel", h.Cancel)
	instances.POST("/:id/resubmit", h.Resubmit)
	instances.GET("/:id/history", h.History)
	instances.GET("/:id/reconstruct", h.Reconstruct)
	instances.GET("/:id/export", h.Export)

	api.GET("/approvers/:approverId/pending", h.PendingFor)
	api.GET("/requests/:entityType/:entityId/status", h.RequestStatus)

	definitions := api.Group("/definitions")
	definitions.POST("", h.PublishDefinition)
	definitions.GET("", h.ListDefinitions)
	definitions.GET("/:id", h.GetDefinition)
	api.GET("/workflows/:workflowType/definition", h.ActiveDefinition)

	api.POST("/sweeps", h.Sweep)
}

// Start listens and serves until ctx is cancelled, then shuts down
// gracefully. A listener failure is returned immediately.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.config.Host, s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.httpServer = srv
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("HTTP server listening", "address", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop drains in-flight requests within the shutdown timeout
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the bound address once listening, the configured one before
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
