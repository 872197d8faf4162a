// Package api exposes the evaluation engine over HTTP. The engine itself
// stays transport-free; this package owns request decoding, error mapping,
// and the optional persistence of evaluation outputs.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/cdss-prevention-engine/internal/cache"
	"github.com/cdss-prevention-engine/internal/classify"
	"github.com/cdss-prevention-engine/internal/domain"
	"github.com/cdss-prevention-engine/internal/engine"
	"github.com/cdss-prevention-engine/internal/middleware"
	"github.com/cdss-prevention-engine/internal/planstore"
	"github.com/cdss-prevention-engine/internal/repository"
	"github.com/cdss-prevention-engine/pkg/provider"
)

const serverVersion = "1.0.0"

// Deps carries the server's collaborators. Engine, Classifier, and Cache are
// required; Provider, Alerts, and Plans are optional deployments features and
// their routes answer 503 when absent.
type Deps struct {
	Engine     *engine.Engine
	Classifier *classify.Classifier
	Cache      *cache.Cache
	Provider   *provider.Client
	Alerts     *repository.AlertRepository
	Plans      planstore.Store
	Logger     *logrus.Logger
}

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	engine        *engine.Engine
	classifier    *classify.Classifier
	cache         *cache.Cache
	provider      *provider.Client
	alerts        *repository.AlertRepository
	plans         planstore.Store
	logger        *logrus.Logger

	metricsInterval time.Duration
	router          *gin.Engine
	server          *http.Server
}

// NewServer creates a new HTTP server instance
func NewServer(configManager domain.ConfigManager, deps Deps) (*Server, error) {
	if deps.Engine == nil {
		return nil, domain.NewConfigurationError("api server requires an engine")
	}
	if deps.Classifier == nil {
		return nil, domain.NewConfigurationError("api server requires a classifier")
	}
	if deps.Cache == nil {
		return nil, domain.NewConfigurationError("api server requires the cache layer")
	}
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}

	cfg := configManager.GetConfig()

	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(corsMiddleware())

	server := &Server{
		configManager:   configManager,
		engine:          deps.Engine,
		classifier:      deps.Classifier,
		cache:           deps.Cache,
		provider:        deps.Provider,
		alerts:          deps.Alerts,
		plans:           deps.Plans,
		logger:          deps.Logger,
		metricsInterval: metricsPushInterval,
		router:          router,
	}

	// Setup routes
	server.setupRoutes()

	return server, nil
}

// Start runs the server until ctx is cancelled, then shuts down gracefully
// within the configured shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.GET("/health", s.handleHealth)

	// Live metrics stream
	s.router.GET("/ws/metrics", s.handleMetricsStream)

	// API v1 routes
	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/evaluations", s.handleEvaluate)
		v1.POST("/patients/:id/evaluations", s.handleEvaluatePatient)
		v1.POST("/classifications", s.handleClassify)
		v1.GET("/metrics", s.handleMetrics)
		v1.GET("/patients/:id/plans", s.handleListPlans)
		v1.GET("/patients/:id/alerts", s.handleListAlerts)
		v1.PATCH("/plans/:id/status", s.handlePlanStatus)
	}
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-Correlation-ID, Authorization, X-API-Key")
		c.Header("Access-Control-Expose-Headers", "Content-Length, X-Correlation-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
