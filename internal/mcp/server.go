// Package mcp exposes the evaluation engine to LLM clients over the Model
// Context Protocol. The server is built from LiteConfig: local cache only,
// SQLite plan persistence, no external services.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/cdss-prevention-engine/internal/cache"
	"github.com/cdss-prevention-engine/internal/classify"
	"github.com/cdss-prevention-engine/internal/config"
	"github.com/cdss-prevention-engine/internal/domain"
	"github.com/cdss-prevention-engine/internal/engine"
	"github.com/cdss-prevention-engine/internal/metrics"
	"github.com/cdss-prevention-engine/internal/plan"
	"github.com/cdss-prevention-engine/internal/planstore"
	"github.com/cdss-prevention-engine/internal/rules"
)

// Server hosts the engine behind MCP tools over stdio.
type Server struct {
	config     *config.LiteConfig
	mcpServer  *mcp.Server
	engine     *engine.Engine
	classifier *classify.Classifier
	planStore  planstore.Store
	cache      *cache.Cache
	logger     *logrus.Logger
}

// ServerOption is a functional option for Server.
type ServerOption func(*Server) error

// WithPlanStore sets a custom plan store.
func WithPlanStore(store planstore.Store) ServerOption {
	return func(s *Server) error {
		s.planStore = store
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *logrus.Logger) ServerOption {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// NewServer creates a new MCP server instance. It requires no external
// services: caching is in-memory and plans persist to SQLite under the
// configured data directory.
func NewServer(cfg *config.LiteConfig, opts ...ServerOption) (*Server, error) {
	server := &Server{
		config: cfg,
		logger: logrus.New(),
	}

	// Configure default logger. MCP clients own stdout, so logs must never
	// mix into the protocol stream; logrus writes to stderr by default.
	if cfg.LogFormat == "text" {
		server.logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		server.logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	server.logger.SetLevel(level)

	// Apply options
	for _, opt := range opts {
		if err := opt(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	// Ensure data directory exists
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// Build the classification and planning pipeline
	classifier, err := classify.NewClassifier()
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier: %w", err)
	}
	server.classifier = classifier

	library, err := plan.NewLibrary()
	if err != nil {
		return nil, fmt.Errorf("failed to create plan library: %w", err)
	}
	synthesizer := plan.NewSynthesizer(classifier, library)

	registry, err := rules.NewBuiltinRegistry(classifier, synthesizer, cfg.PolypharmacyThreshold, server.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build rule registry: %w", err)
	}

	// Local-only cache: no Redis address means no distributed tier
	resultCache, err := cache.NewFromConfig(domain.CacheConfig{
		LocalMaxEntries: cfg.CacheMaxItems,
		ResultTTL:       cfg.CacheTTL,
	}, nil, server.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	server.cache = resultCache

	collector := metrics.NewCollector(server.logger)

	eng, err := engine.New(registry, resultCache, collector, domain.EngineConfig{
		PerRuleTimeout:        cfg.PerRuleTimeout,
		PolypharmacyThreshold: cfg.PolypharmacyThreshold,
	}, server.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	server.engine = eng

	// Initialize plan store if not provided
	if server.planStore == nil {
		store, err := planstore.NewSQLiteStore(cfg.PlanDBPath())
		if err != nil {
			return nil, fmt.Errorf("failed to create plan store: %w", err)
		}
		server.planStore = store
	}

	// Create MCP server
	serverInfo := &mcp.Implementation{
		Name:    "cdss-prevention-engine",
		Version: "v0.1.0",
	}
	server.mcpServer = mcp.NewServer(serverInfo, nil)

	server.registerTools()

	server.logger.WithField("rule_count", registry.Len()).Info("MCP server initialized")
	return server, nil
}

// registerTools registers the engine tools with the MCP SDK. Input schemas
// are inferred from the typed parameter structs.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "classify_lab_value",
		Description: "Classify a single laboratory value into a severity category using the engine's clinical threshold table. Sex-specific and demographic-aware bands are applied where defined.",
	}, s.handleClassifyLabValue)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "evaluate_patient",
		Description: "Run the full clinical rule set against a patient context: lab threshold rules, polypharmacy review, metabolic risk, and screening gaps. Returns alerts and prevention-plan drafts; generated plans are persisted.",
	}, s.handleEvaluatePatient)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "engine_metrics",
		Description: "Return the engine's metrics snapshot: evaluation counts, cache hit rate, latency percentiles, and per-rule failure counts.",
	}, s.handleEngineMetrics)

	s.logger.WithField("tool_count", 3).Info("MCP tools registered")
}

// Start runs the MCP server over stdio until ctx is cancelled or the client
// disconnects.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting CDSS prevention engine MCP server")

	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// Close cleans up server resources.
func (s *Server) Close() error {
	if s.planStore != nil {
		if err := s.planStore.Close(); err != nil {
			s.logger.WithError(err).Error("Failed to close plan store")
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.WithError(err).Error("Failed to close cache")
		}
	}
	return nil
}

// PlanStore returns the plan store for external access.
func (s *Server) PlanStore() planstore.Store {
	return s.planStore
}
