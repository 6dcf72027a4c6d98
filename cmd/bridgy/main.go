// Bridgy orchestration bridge server. Wires configuration, audit
// persistence, the shared MCP client, the agentic engine, and the HTTP API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/bridgy/pkg/agent"
	"github.com/codeready-toolchain/bridgy/pkg/api"
	"github.com/codeready-toolchain/bridgy/pkg/audit"
	"github.com/codeready-toolchain/bridgy/pkg/cleanup"
	"github.com/codeready-toolchain/bridgy/pkg/config"
	"github.com/codeready-toolchain/bridgy/pkg/database"
	"github.com/codeready-toolchain/bridgy/pkg/llm"
	"github.com/codeready-toolchain/bridgy/pkg/masking"
	"github.com/codeready-toolchain/bridgy/pkg/mcp"
	"github.com/codeready-toolchain/bridgy/pkg/permissions"
	"github.com/codeready-toolchain/bridgy/pkg/ratelimit"
	"github.com/codeready-toolchain/bridgy/pkg/services"
	"github.com/codeready-toolchain/bridgy/pkg/threads"
	"github.com/codeready-toolchain/bridgy/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// databaseConfigured reports whether enough environment is present to reach
// Postgres. Without it the bridge runs with in-memory audit records.
func databaseConfigured() bool {
	return os.Getenv("DATABASE_URL") != "" || os.Getenv("DB_PASSWORD") != ""
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")

	slog.Info("Starting bridgy",
		"version", version.Full(),
		"http_port", httpPort,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration provider (initial load, then SIGHUP/periodic reload)
	reloadInterval, err := time.ParseDuration(getEnv("CONFIG_RELOAD_INTERVAL", "1m"))
	if err != nil {
		slog.Error("Invalid CONFIG_RELOAD_INTERVAL", "error", err)
		os.Exit(1)
	}

	provider, err := config.NewProvider(ctx, *configDir, reloadInterval)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	provider.Start(ctx)
	defer provider.Stop()

	snap := provider.Snapshot()
	stats := snap.Stats()
	slog.Info("Configuration loaded",
		"mcp_servers", stats.MCPServers,
		"roles", stats.Roles,
		"users", stats.Users)

	// 2. Audit store: Postgres when configured, bounded memory otherwise
	var auditStore audit.Store
	var dbClient *database.Client
	if databaseConfigured() {
		dbConfig, err := database.LoadConfigFromEnv()
		if err != nil {
			slog.Error("Failed to load database config", "error", err)
			os.Exit(1)
		}

		dbClient, err = database.NewClient(ctx, dbConfig)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				slog.Error("Error closing database client", "error", err)
			}
		}()
		auditStore = audit.NewPostgresStore(dbClient.DB())
		slog.Info("Connected to PostgreSQL database")
	} else {
		auditStore = audit.NewMemoryStore(0)
		slog.Warn("No database configured (DATABASE_URL or DB_PASSWORD), audit records are in-memory only")
	}

	// 3. Write-behind audit recorder and retention sweep
	recorder := audit.NewRecorder(auditStore, audit.DefaultQueueSize)
	recorder.Start()

	cleanupSvc := cleanup.NewService(auditStore,
		snap.Defaults.AuditRetentionDays, snap.Defaults.CleanupInterval)
	cleanupSvc.Start(ctx)

	// 4. Masking service (custom patterns compile once at startup)
	maskingService := masking.NewService(snap.MCPServerRegistry)

	// 5. MCP infrastructure: one shared client serves all requests.
	// Eager validation: a server that cannot connect at startup is a broken
	// config, not a runtime hiccup, so the process exits.
	warningsService := services.NewWarnings()
	mcpFactory := mcp.NewClientFactory(snap.MCPServerRegistry, snap.Defaults.ToolCacheTTL)

	serverIDs := snap.EnabledMCPServerIDs()
	mcpClient, err := mcpFactory.CreateClient(ctx, serverIDs)
	if err != nil {
		slog.Error("Failed to create MCP client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := mcpClient.Close(); err != nil {
			slog.Error("Error closing MCP client", "error", err)
		}
	}()

	if failed := mcpClient.FailedServers(); len(failed) > 0 {
		slog.Error("MCP servers failed startup validation", "failed_servers", failed)
		os.Exit(1)
	}
	slog.Info("MCP servers validated", "count", len(serverIDs))

	// Start HealthMonitor (background goroutine with its own probe client)
	var healthMonitor *mcp.HealthMonitor
	if len(serverIDs) > 0 {
		healthMonitor = mcp.NewHealthMonitor(mcpFactory, snap.MCPServerRegistry, warningsService)
		healthMonitor.Start(ctx)
		defer healthMonitor.Stop()
		slog.Info("MCP health monitor started")
	}

	// 6. Request-path services
	limiter := ratelimit.NewLimiter(snap.Defaults.RateWindow)
	limiter.Start()

	threadStore := threads.NewStore(snap.Defaults.ThreadDepth, snap.Defaults.ThreadTTL)
	threadStore.Start()

	resolver := permissions.NewResolver(mcpClient, snap.Defaults.PermissionCacheTTL)

	llmClient, err := llm.NewClient(snap.LLM)
	if err != nil {
		slog.Error("Failed to initialize LM client", "error", err)
		os.Exit(1)
	}
	slog.Info("LM client initialized", "model", llmClient.Model())

	// 7. Agentic engine. Each request gets an executor scoped to its own
	// resolved permissions over the shared MCP client.
	engine := agent.NewEngine(agent.Deps{
		Snapshots: provider,
		LLM:       llmClient,
		Executors: func(allowed map[string][]string) agent.ToolExecutor {
			return mcp.NewToolExecutor(mcpClient, allowed, maskingService)
		},
		Resolver: resolver,
		Limiter:  limiter,
		Threads:  threadStore,
		Recorder: recorder,
	})

	// 8. HTTP surface
	httpServer := api.NewServer(provider, engine, resolver, mcpClient, auditStore)
	if healthMonitor != nil {
		httpServer.SetHealthMonitor(healthMonitor)
	}
	httpServer.SetWarningsService(warningsService)
	httpServer.SetRecorder(recorder)
	if dbClient != nil {
		httpServer.SetDBClient(dbClient)
	}
	httpServer.SetMasker(maskingService)

	// 9. Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("bridgy started successfully",
		"mcp_servers", len(serverIDs),
		"rate_window", snap.Defaults.RateWindow.String())

	// 10. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 11. Graceful shutdown. HTTP drains first so in-flight requests settle
	// and audit; the recorder stops last so its queue flushes to the store
	// before the deferred close of the database pool.
	drainBudget := snap.Defaults.RequestTimeout + 5*time.Second
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, drainBudget)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	cleanupSvc.Stop()
	limiter.Stop()
	threadStore.Stop()
	recorder.Stop()

	slog.Info("Shutdown complete")
}
