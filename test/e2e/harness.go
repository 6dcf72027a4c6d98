// Package e2e provides end-to-end test infrastructure for the bridgy
// request path: HTTP surface, agentic engine, permissions, rate limiting,
// threads, and audit, over in-memory MCP servers and a scripted model.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/bridgy/pkg/agent"
	"github.com/codeready-toolchain/bridgy/pkg/api"
	"github.com/codeready-toolchain/bridgy/pkg/audit"
	"github.com/codeready-toolchain/bridgy/pkg/config"
	"github.com/codeready-toolchain/bridgy/pkg/masking"
	"github.com/codeready-toolchain/bridgy/pkg/mcp"
	"github.com/codeready-toolchain/bridgy/pkg/models"
	"github.com/codeready-toolchain/bridgy/pkg/permissions"
	"github.com/codeready-toolchain/bridgy/pkg/ratelimit"
	"github.com/codeready-toolchain/bridgy/pkg/services"
	"github.com/codeready-toolchain/bridgy/pkg/threads"
)

// staticSnapshots serves a fixed configuration snapshot. It satisfies both
// agent.SnapshotProvider and api.ConfigSource, replacing the file-backed
// provider in tests.
type staticSnapshots struct {
	cfg *config.Config
}

func (s staticSnapshots) Snapshot() *config.Config { return s.cfg }

// TestApp boots a complete bridgy instance for e2e testing.
type TestApp struct {
	// Core
	Config *config.Config

	// Mocks / test wiring
	LLM        *ScriptedLLMClient
	MCPFactory *mcp.ClientFactory // real factory backed by in-memory MCP SDK servers
	MCPClient  *mcp.Client

	// Real infrastructure
	AuditStore *audit.MemoryStore
	Recorder   *audit.Recorder
	Limiter    *ratelimit.Limiter
	Threads    *threads.Store
	Resolver   *permissions.Resolver
	Engine     *agent.Engine
	Server     *api.Server

	// Runtime
	BaseURL string // e.g. "http://127.0.0.1:54321"

	t *testing.T
}

// testAppConfig holds options accumulated before creating the TestApp.
type testAppConfig struct {
	cfg        *config.Config
	llmClient  *ScriptedLLMClient
	mcpServers toolTable
	mutations  []func(*config.Defaults)
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithConfig sets a custom config.
func WithConfig(cfg *config.Config) TestAppOption {
	return func(c *testAppConfig) { c.cfg = cfg }
}

// WithLLMClient sets a pre-scripted model client.
func WithLLMClient(client *ScriptedLLMClient) TestAppOption {
	return func(c *testAppConfig) { c.llmClient = client }
}

// WithMCPServers sets in-memory MCP SDK servers.
// Maps serverID → (toolName → handler).
func WithMCPServers(servers toolTable) TestAppOption {
	return func(c *testAppConfig) { c.mcpServers = servers }
}

// WithDefaults mutates the effective Defaults before boot. Applied after
// WithConfig, so tests can tweak one knob without rebuilding the config.
func WithDefaults(mutate func(*config.Defaults)) TestAppOption {
	return func(c *testAppConfig) { c.mutations = append(c.mutations, mutate) }
}

// NewTestApp creates and starts a full bridgy test instance.
// Shutdown is registered via t.Cleanup automatically.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	tc := &testAppConfig{}
	for _, opt := range opts {
		opt(tc)
	}
	if tc.cfg == nil {
		tc.cfg = defaultTestConfig()
	}
	if tc.llmClient == nil {
		tc.llmClient = NewScriptedLLMClient()
	}
	for _, mutate := range tc.mutations {
		mutate(tc.cfg.Defaults)
	}

	// Register stub configs for in-memory servers the config does not already
	// define, so permission evaluation resolves against the same server table
	// the MCP client serves.
	serverConfigs := map[string]*config.MCPServerConfig{}
	if tc.cfg.MCPServerRegistry != nil {
		serverConfigs = tc.cfg.MCPServerRegistry.GetAll()
	}
	for serverID := range tc.mcpServers {
		if _, ok := serverConfigs[serverID]; !ok {
			serverConfigs[serverID] = &config.MCPServerConfig{
				Transport: config.TransportConfig{
					Type:    config.TransportTypeStdio,
					Command: "mock", // overridden by the in-memory transport
				},
			}
		}
	}
	tc.cfg.MCPServerRegistry = config.NewMCPServerRegistry(serverConfigs)

	snapshots := staticSnapshots{cfg: tc.cfg}
	ctx := context.Background()

	// 1. Audit: bounded memory store behind the write-behind recorder.
	auditStore := audit.NewMemoryStore(0)
	recorder := audit.NewRecorder(auditStore, audit.DefaultQueueSize)
	recorder.Start()

	// 2. Masking over the shared registry.
	maskingService := masking.NewService(tc.cfg.MCPServerRegistry)

	// 3. MCP: one real shared client over in-memory SDK servers.
	factory := SetupInMemoryMCP(t, tc.cfg.MCPServerRegistry, tc.mcpServers)
	mcpClient, err := factory.CreateClient(ctx, tc.cfg.EnabledMCPServerIDs())
	require.NoError(t, err)

	// 4. Request-path services.
	limiter := ratelimit.NewLimiter(tc.cfg.Defaults.RateWindow)
	limiter.Start()

	threadStore := threads.NewStore(tc.cfg.Defaults.ThreadDepth, tc.cfg.Defaults.ThreadTTL)
	threadStore.Start()

	resolver := permissions.NewResolver(mcpClient, tc.cfg.Defaults.PermissionCacheTTL)

	// 5. Agentic engine over the scripted model.
	engine := agent.NewEngine(agent.Deps{
		Snapshots: snapshots,
		LLM:       tc.llmClient,
		Executors: func(allowed map[string][]string) agent.ToolExecutor {
			return mcp.NewToolExecutor(mcpClient, allowed, maskingService)
		},
		Resolver: resolver,
		Limiter:  limiter,
		Threads:  threadStore,
		Recorder: recorder,
	})

	// 6. HTTP surface on a random port.
	server := api.NewServer(snapshots, engine, resolver, mcpClient, auditStore)
	server.SetRecorder(recorder)
	server.SetWarningsService(services.NewWarnings())
	server.SetMasker(maskingService)

	httpServer := httptest.NewServer(server)

	app := &TestApp{
		Config:     tc.cfg,
		LLM:        tc.llmClient,
		MCPFactory: factory,
		MCPClient:  mcpClient,
		AuditStore: auditStore,
		Recorder:   recorder,
		Limiter:    limiter,
		Threads:    threadStore,
		Resolver:   resolver,
		Engine:     engine,
		Server:     server,
		BaseURL:    httpServer.URL,
		t:          t,
	}

	// Shutdown in reverse-creation order. The HTTP server drains first so
	// in-flight requests settle; the recorder stops last among the services
	// so their final records flush to the store.
	t.Cleanup(func() {
		httpServer.Close()
		limiter.Stop()
		threadStore.Stop()
		recorder.Stop()
		_ = mcpClient.Close()
	})

	return app
}

// defaultTestConfig builds a config covering the common e2e scenarios: a
// full-access user, a single-server user, and a user whose role admits one
// request per window. Tests needing more use WithConfig.
func defaultTestConfig() *config.Config {
	roles := map[string]*config.RoleConfig{
		"dev": {
			Description: "full tool access",
			RateLimit:   config.IntPtr(50),
			MCPServers:  []string{"*"},
		},
		"db_only": {
			Description: "database server only",
			RateLimit:   config.IntPtr(50),
			MCPServers:  []string{"database-mcp"},
		},
		"capped": {
			Description: "one request per window",
			RateLimit:   config.IntPtr(1),
			MCPServers:  []string{"*"},
		},
		"read_only": {
			RateLimit: config.IntPtr(30),
		},
	}
	users := map[string]*config.UserConfig{
		"U-DEV":    {Role: "dev", DisplayName: "Dev User"},
		"U-DBA":    {Role: "db_only", DisplayName: "Database User"},
		"U-CAPPED": {Role: "capped"},
	}

	return &config.Config{
		Defaults: &config.Defaults{
			MaxIterations:      5,
			ThreadDepth:        4,
			ToolCacheTTL:       time.Minute,
			PermissionCacheTTL: time.Minute,
			ThreadTTL:          time.Hour,
			RateWindow:         time.Hour,
			RequestTimeout:     10 * time.Second,
			AuditRetentionDays: 1,
			CleanupInterval:    time.Hour,
		},
		LLM: &config.LLMConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 1024,
			Pricing: &config.Pricing{
				InputPerMTok:  0.80,
				OutputPerMTok: 4.00,
				CachedPerMTok: 0.08,
			},
		},
		MCPServerRegistry: config.NewMCPServerRegistry(nil),
		UserRegistry:      config.NewUserRegistry(roles, users, "read_only"),
	}
}

// Ask posts a chat request and returns the parsed response body after
// asserting the HTTP status.
func (app *TestApp) Ask(t *testing.T, body map[string]any, expectedStatus int) map[string]any {
	t.Helper()
	resp, parsed := app.doJSON(t, http.MethodPost, "/api/v1/chat/ask", body)
	require.Equal(t, expectedStatus, resp.StatusCode, "POST /api/v1/chat/ask: unexpected status, body: %v", parsed)
	return parsed
}

// postJSON posts a body and returns the parsed response after asserting the status.
func (app *TestApp) postJSON(t *testing.T, path string, body any, expectedStatus int) map[string]any {
	t.Helper()
	resp, parsed := app.doJSON(t, http.MethodPost, path, body)
	require.Equal(t, expectedStatus, resp.StatusCode, "POST %s: unexpected status, body: %v", path, parsed)
	return parsed
}

// getJSON fetches a path and returns the parsed response after asserting the status.
func (app *TestApp) getJSON(t *testing.T, path string, expectedStatus int) map[string]any {
	t.Helper()
	resp, parsed := app.doJSON(t, http.MethodGet, path, nil)
	require.Equal(t, expectedStatus, resp.StatusCode, "GET %s: unexpected status, body: %v", path, parsed)
	return parsed
}

// doJSON issues one request and returns the response (body already closed)
// with its decoded JSON object. Tests needing headers use this directly.
func (app *TestApp) doJSON(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, app.BaseURL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var parsed map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &parsed), "response is not a JSON object: %s", raw)
	}
	return resp, parsed
}

// WaitForAuditRecords polls the store until the user has at least n records
// and returns them, newest first. The recorder writes behind the response,
// so records may land shortly after the HTTP reply.
func (app *TestApp) WaitForAuditRecords(t *testing.T, userID string, n int) []*models.AuditRecord {
	t.Helper()

	var records []*models.AuditRecord
	require.Eventually(t, func() bool {
		var err error
		records, err = app.AuditStore.Recent(context.Background(), userID, audit.DefaultRecentLimit)
		return err == nil && len(records) >= n
	}, 5*time.Second, 10*time.Millisecond,
		"expected %d audit records for %s, last saw %d", n, userID, len(records))
	return records
}
