// Package main provides the stdio entry point for the prevention engine MCP
// server. It requires no external services: configuration comes from the
// environment, caching is in-memory, and plans persist to SQLite.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cdss-prevention-engine/internal/config"
	"github.com/cdss-prevention-engine/internal/mcp"
	"github.com/cdss-prevention-engine/internal/setup"
)

func main() {
	// "mcp-server setup ..." runs the installer instead of the server.
	if len(os.Args) > 1 && os.Args[1] == "setup" {
		if err := setup.NewCLI().Run(os.Args[2:]); err != nil {
			log.Fatalf("Setup failed: %v", err)
		}
		return
	}

	// Load lightweight configuration from the environment
	cfg := config.LoadLiteConfig()

	// log writes to stderr; stdout belongs to the MCP protocol stream
	log.Printf("Starting CDSS prevention engine MCP server (data dir: %s)", cfg.DataDir)

	server, err := mcp.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create MCP server: %v", err)
	}
	defer server.Close()

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		log.Fatalf("MCP server failed: %v", err)
	}

	log.Println("CDSS prevention engine MCP server stopped")
}
