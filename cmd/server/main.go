// Package main provides the full HTTP deployment of the prevention engine:
// viper configuration, optional Redis cache tier, optional Postgres alert
// persistence with schema migrations, and a configurable plan store.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/cdss-prevention-engine/internal/api"
	"github.com/cdss-prevention-engine/internal/cache"
	"github.com/cdss-prevention-engine/internal/classify"
	"github.com/cdss-prevention-engine/internal/config"
	"github.com/cdss-prevention-engine/internal/database"
	"github.com/cdss-prevention-engine/internal/domain"
	"github.com/cdss-prevention-engine/internal/engine"
	"github.com/cdss-prevention-engine/internal/metrics"
	"github.com/cdss-prevention-engine/internal/plan"
	"github.com/cdss-prevention-engine/internal/planstore"
	"github.com/cdss-prevention-engine/internal/repository"
	"github.com/cdss-prevention-engine/internal/rules"
	"github.com/cdss-prevention-engine/pkg/provider"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	logger := newLogger(cfg.Logging)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Build the evaluation pipeline
	classifier, err := classify.NewClassifier()
	if err != nil {
		logger.WithError(err).Fatal("Failed to build classifier")
	}
	library, err := plan.NewLibrary()
	if err != nil {
		logger.WithError(err).Fatal("Failed to build plan library")
	}
	synthesizer := plan.NewSynthesizer(classifier, library)

	registry, err := rules.NewBuiltinRegistry(classifier, synthesizer, cfg.Engine.PolypharmacyThreshold, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build rule registry")
	}

	collector := metrics.NewCollector(logger)

	resultCache, err := cache.NewFromConfig(cfg.Cache, collector, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build cache layer")
	}
	defer resultCache.Close()

	eng, err := engine.New(registry, resultCache, collector, cfg.Engine, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build engine")
	}

	deps := api.Deps{
		Engine:     eng,
		Classifier: classifier,
		Cache:      resultCache,
		Logger:     logger,
	}

	// Optional patient-context provider
	if cfg.Provider.BaseURL != "" {
		client, err := provider.NewClient(cfg.Provider)
		if err != nil {
			logger.WithError(err).Fatal("Failed to build provider client")
		}
		deps.Provider = client
	}

	// Optional Postgres alert persistence, migrated on start
	if cfg.Database.URL != "" {
		if err := database.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsPath, logger); err != nil {
			logger.WithError(err).Fatal("Failed to run database migrations")
		}
		db, err := database.NewConnection(ctx, cfg.Database, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to database")
		}
		defer db.Close()
		deps.Alerts = repository.NewAlertRepository(db.Pool, logger)
	}

	// Plan store
	store, err := openPlanStore(cfg.PlanStore)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open plan store")
	}
	defer store.Close()
	deps.Plans = store

	server, err := api.NewServer(configManager, deps)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build API server")
	}

	logger.WithFields(logrus.Fields{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Starting CDSS prevention engine")

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Server stopped")
}

// newLogger builds the process logger from the logging configuration.
func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// openPlanStore opens the configured plan store backend. An sqlite driver
// with no path falls back to the lite data directory.
func openPlanStore(cfg domain.PlanStoreConfig) (planstore.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return planstore.NewPostgresStoreFromDSN(cfg.DSN)
	default:
		path := cfg.Path
		if path == "" {
			lite := config.DefaultLiteConfig()
			if err := lite.EnsureDataDir(); err != nil {
				return nil, err
			}
			path = lite.PlanDBPath()
		}
		return planstore.NewSQLiteStore(path)
	}
}
