// Orchestrator server — serves the WebSocket duplex protocol and runs
// streaming RAG plans against the knowledge base.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/aiblox/orchestrator/pkg/api"
	"github.com/aiblox/orchestrator/pkg/chunker"
	"github.com/aiblox/orchestrator/pkg/database"
	"github.com/aiblox/orchestrator/pkg/orchestrator"
	"github.com/aiblox/orchestrator/pkg/retriever"
	"github.com/aiblox/orchestrator/pkg/storage"
	"github.com/aiblox/orchestrator/pkg/tools"
	"github.com/aiblox/orchestrator/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	envFile := flag.String("env-file", getEnv("ENV_FILE", ".env"),
		"Path to environment file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("Could not load env file, continuing with existing environment",
			"path", *envFile, "error", err)
	} else {
		slog.Info("Loaded environment", "path", *envFile)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	slog.Info("Starting orchestrator",
		"version", version.Full(),
		"http_port", httpPort)

	ctx := context.Background()

	// 1. Database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 2. Retrieval pipeline
	itemRepo := storage.NewItemRepo(dbClient.DB())
	cacheRepo := storage.NewChunkCacheRepo(dbClient.DB())
	hybrid := retriever.NewHybridRetriever(
		itemRepo, cacheRepo, chunker.NewRegistry(), retriever.NewHashEmbedder())
	slog.Info("Retrieval pipeline initialized")

	// 3. Tool runner: an MCP server over stdio when configured, noop otherwise.
	var toolRunner orchestrator.ToolRunner = orchestrator.NoopToolRunner{}
	if mcpCmd := os.Getenv("MCP_SERVER_CMD"); mcpCmd != "" {
		transport, err := tools.NewCommandTransport(mcpCmd)
		if err != nil {
			slog.Error("Invalid MCP server command", "error", err)
			os.Exit(1)
		}
		mcpRunner := tools.NewMCPToolRunner()
		if err := mcpRunner.Connect(ctx, transport); err != nil {
			slog.Error("Failed to connect to MCP server", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := mcpRunner.Close(); err != nil {
				slog.Error("Error closing MCP session", "error", err)
			}
		}()
		toolRunner = mcpRunner
		slog.Info("MCP tool runner connected", "command", mcpCmd)
	}

	// 4. Orchestrator
	tokenDelay := time.Duration(0)
	if ms, err := strconv.Atoi(getEnv("TOKEN_DELAY_MS", "0")); err == nil && ms > 0 {
		tokenDelay = time.Duration(ms) * time.Millisecond
	}
	runner := orchestrator.NewStepRunner(
		hybrid,
		toolRunner,
		orchestrator.NoopAgentRunner{},
		orchestrator.AcceptAllValidator{},
		&orchestrator.EchoRuntime{TokenDelay: tokenDelay},
	)
	orch := orchestrator.New(runner)

	// 5. HTTP server
	connManager := api.NewConnectionManager(orch, 10*time.Second)
	httpServer := api.NewServer(dbClient, connManager)
	if origins := os.Getenv("WS_ALLOWED_ORIGINS"); origins != "" {
		patterns := strings.Split(origins, ",")
		for i := range patterns {
			patterns[i] = strings.TrimSpace(patterns[i])
		}
		httpServer.SetAllowedOrigins(patterns)
		slog.Info("WebSocket origin allowlist configured", "patterns", patterns)
	}

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	// 6. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 7. Graceful shutdown; in-flight requests are cancelled when their
	// connections close.
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
