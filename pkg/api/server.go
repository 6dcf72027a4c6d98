package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	echo "github.com/labstack/echo/v5"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codeready-toolchain/bridgy/pkg/audit"
	"github.com/codeready-toolchain/bridgy/pkg/config"
	"github.com/codeready-toolchain/bridgy/pkg/database"
	"github.com/codeready-toolchain/bridgy/pkg/mcp"
	"github.com/codeready-toolchain/bridgy/pkg/models"
	"github.com/codeready-toolchain/bridgy/pkg/permissions"
	"github.com/codeready-toolchain/bridgy/pkg/services"
)

// ChatEngine drives one chat request to a terminal outcome.
// *agent.Engine satisfies it.
type ChatEngine interface {
	Ask(ctx context.Context, req models.AskRequest) (*models.AskResult, error)
}

// ToolInvoker is the direct-invocation surface of the MCP client.
// *mcp.Client satisfies it.
type ToolInvoker interface {
	CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (*mcpsdk.CallToolResult, error)
	InvalidateToolCache(serverID string)
	InvalidateAll()
}

// ConfigSource supplies the current configuration snapshot.
// *config.Provider satisfies it. Handlers snapshot once per request so a
// mid-request reload never retargets their work.
type ConfigSource interface {
	Snapshot() *config.Config
}

// HealthReporter exposes MCP server health to /health and the server
// listing. *mcp.HealthMonitor satisfies it.
type HealthReporter interface {
	Statuses() map[string]*mcp.HealthStatus
	IsHealthy() bool
}

// ResultMasker scrubs secrets from tool result content before it leaves the
// API. *masking.Service satisfies it.
type ResultMasker interface {
	MaskToolResult(content string, serverID string) string
}

// Server is the bridge's HTTP surface.
type Server struct {
	snapshots ConfigSource
	engine    ChatEngine
	resolver  *permissions.Resolver
	tools     ToolInvoker
	auditor   audit.Store

	// Optional collaborators, attached via Set* before Start.
	dbClient       *database.Client
	recorder       *audit.Recorder
	warningService *services.Warnings
	healthMonitor  HealthReporter
	masker         ResultMasker

	echo *echo.Echo

	mu  sync.Mutex
	srv *http.Server
}

// NewServer wires the HTTP surface over its required collaborators and
// registers all routes.
func NewServer(snapshots ConfigSource, engine ChatEngine, resolver *permissions.Resolver, tools ToolInvoker, auditStore audit.Store) *Server {
	s := &Server{
		snapshots: snapshots,
		engine:    engine,
		resolver:  resolver,
		tools:     tools,
		auditor:   auditStore,
	}

	e := echo.New()
	e.Use(securityHeaders())
	e.Use(requestLogger())
	s.registerRoutes(e)
	s.echo = e

	return s
}

// SetHealthMonitor attaches the MCP health monitor for /health and the
// server listing.
func (s *Server) SetHealthMonitor(m HealthReporter) {
	s.healthMonitor = m
}

// SetWarningsService attaches the system warnings source for /health.
func (s *Server) SetWarningsService(w *services.Warnings) {
	s.warningService = w
}

// SetRecorder attaches the audit recorder so /health can expose queue stats.
func (s *Server) SetRecorder(r *audit.Recorder) {
	s.recorder = r
}

// SetDBClient attaches the database client for the /health connectivity check.
func (s *Server) SetDBClient(c *database.Client) {
	s.dbClient = c
}

// SetMasker attaches the data masking service for direct tool invocations.
func (s *Server) SetMasker(m ResultMasker) {
	s.masker = m
}

func (s *Server) registerRoutes(e *echo.Echo) {
	e.GET("/health", s.healthHandler)

	e.POST("/api/v1/chat/ask", s.askChatHandler)

	e.GET("/api/v1/mcp/tools", s.listToolsHandler)
	e.POST("/api/v1/mcp/tools/call", s.callToolHandler)
	e.GET("/api/v1/mcp/servers", s.listServersHandler)
	e.GET("/api/v1/mcp/servers/:server/tools", s.serverToolsHandler)
	e.POST("/api/v1/mcp/cache/invalidate", s.invalidateCacheHandler)
	e.POST("/api/v1/mcp/cache/invalidate/:server", s.invalidateCacheHandler)

	e.GET("/api/v1/audit/records", s.listAuditRecordsHandler)
	e.GET("/api/v1/audit/records/:id", s.getAuditRecordHandler)

	e.GET("/api/v1/users/:id/permissions", s.userPermissionsHandler)
}

// ServeHTTP makes the Server an http.Handler; tests drive it directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start serves HTTP on addr and blocks until shutdown or listener failure.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	return srv.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
