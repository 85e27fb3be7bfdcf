// Package http provides HTTP server adapter for the application layer.
// This is a thin adapter layer that translates HTTP requests to application service calls.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/taxcredit-docflow/internal/application/service"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// RequestObserver records per-request metrics
type RequestObserver interface {
	ObserveHTTPRequest(method, path string, status int, d time.Duration)
}

// SignedFileStore serves objects behind locally signed URLs
type SignedFileStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	VerifySignature(key, expires, signature string) error
}

// HealthReporter reports component health for /health
type HealthReporter interface {
	Ready() bool
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// ServerDeps holds the services and collaborators exposed over HTTP.
// Files, Metrics, MetricsHandler and Health are optional.
type ServerDeps struct {
	Documents      service.DocumentService
	Workflows      service.WorkflowService
	Admin          service.AdminService
	Files          SignedFileStore
	Metrics        RequestObserver
	MetricsHandler http.Handler
	Health         HealthReporter
	Logger         Logger
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	deps       ServerDeps
	logger     Logger
}

// NewServer creates a new HTTP server with the given services
func NewServer(config ServerConfig, deps ServerDeps) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	server := &Server{
		config: config,
		router: router,
		deps:   deps,
		logger: deps.Logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
	if s.deps.Metrics != nil {
		s.router.Use(s.metricsMiddleware())
	}
}

// loggingMiddleware creates a logging middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		s.logger.Info("HTTP request",
			"method", method,
			"path", path,
			"status", status,
			"latency", latency.String(),
			"client_ip", c.ClientIP(),
		)
	}
}

// metricsMiddleware labels requests by route template to keep cardinality bounded
func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.deps.Metrics.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	handlers := NewHandlers(s.deps.Documents, s.deps.Workflows, s.deps.Admin, s.deps.Health, s.logger)

	s.router.GET("/health", handlers.HealthCheck)
	if s.deps.MetricsHandler != nil {
		s.router.GET("/metrics", gin.WrapH(s.deps.MetricsHandler))
	}
	if s.deps.Files != nil {
		files := NewFileHandler(s.deps.Files, s.logger)
		s.router.GET("/files/*key", files.Download)
	}

	api := s.router.Group("/api")
	{
		api.POST("/documents", handlers.GenerateDocument)
		api.POST("/documents/bundle", handlers.GenerateBundle)
		api.GET("/documents/:id", handlers.GetDocument)
		api.GET("/documents/:id/download-url", handlers.GetDownloadURL)
		api.POST("/documents/:id/verify", handlers.VerifyDocument)

		api.POST("/workflows", handlers.DispatchWorkflow)
		api.GET("/workflows/:id", handlers.GetWorkflowStatus)

		admin := api.Group("/admin")
		{
			admin.POST("/documents/:id/resend", handlers.ResendDocument)
			admin.POST("/documents/:id/regenerate", handlers.RegenerateDocument)
			admin.POST("/payments/:id/refund", handlers.RefundPayment)
			admin.POST("/workflows/:id/redispatch", handlers.RedispatchWorkflow)
			admin.GET("/audit", handlers.ListAudit)
		}
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
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

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
