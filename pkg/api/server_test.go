package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/bridgy/pkg/audit"
	"github.com/codeready-toolchain/bridgy/pkg/config"
	"github.com/codeready-toolchain/bridgy/pkg/models"
	"github.com/codeready-toolchain/bridgy/pkg/permissions"
)

// --- Test doubles ---

// fakeEngine returns a scripted result or error and remembers the last request.
type fakeEngine struct {
	mu      sync.Mutex
	lastReq models.AskRequest
	result  *models.AskResult
	err     error
}

func (f *fakeEngine) Ask(_ context.Context, req models.AskRequest) (*models.AskResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeEngine) last() models.AskRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

// fakeInvoker scripts direct tool calls and records cache invalidations.
type fakeInvoker struct {
	mu          sync.Mutex
	result      *mcpsdk.CallToolResult
	err         error
	calls       []string
	invalidated []string
}

func (f *fakeInvoker) CallTool(_ context.Context, serverID, toolName string, _ map[string]any) (*mcpsdk.CallToolResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, serverID+"/"+toolName)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeInvoker) InvalidateToolCache(serverID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, serverID)
}

func (f *fakeInvoker) InvalidateAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, "*")
}

// fakeCatalog backs the permissions resolver with fixed per-server tools.
type fakeCatalog struct {
	tools map[string][]*mcpsdk.Tool
}

func (f *fakeCatalog) ListTools(_ context.Context, serverID string) ([]*mcpsdk.Tool, error) {
	return f.tools[serverID], nil
}

// staticConfig serves a fixed snapshot.
type staticConfig struct {
	snap *config.Config
}

func (s staticConfig) Snapshot() *config.Config { return s.snap }

// --- Fixture ---

func testSnapshot() *config.Config {
	servers := map[string]*config.MCPServerConfig{
		"database-mcp": {
			Transport:    config.TransportConfig{Type: config.TransportTypeStdio, Command: "db-mcp"},
			Instructions: "Read-only database diagnostics.",
		},
		"admin-mcp": {
			Transport:  config.TransportConfig{Type: config.TransportTypeStdio, Command: "admin-mcp"},
			ToolPolicy: &config.ToolPolicy{Mode: config.ToolPolicyAllowAllExcept, Tools: []string{"drop_*"}},
		},
		"dark-mcp": {
			Transport: config.TransportConfig{Type: config.TransportTypeHTTP, URL: "http://dark:8080/mcp"},
			Enabled:   config.BoolPtr(false),
		},
	}

	roles := map[string]*config.RoleConfig{
		"dba": {
			RateLimit:  config.IntPtr(100),
			MCPServers: []string{"*"},
		},
		"default_user": {
			RateLimit:  config.IntPtr(10),
			MCPServers: []string{"database-mcp"},
		},
	}

	users := map[string]*config.UserConfig{
		"alice@x": {Role: "dba", DisplayName: "Alice"},
	}

	return &config.Config{
		Defaults:          &config.Defaults{},
		MCPServerRegistry: config.NewMCPServerRegistry(servers),
		UserRegistry:      config.NewUserRegistry(roles, users, "default_user"),
	}
}

func testCatalog() *fakeCatalog {
	return &fakeCatalog{tools: map[string][]*mcpsdk.Tool{
		"database-mcp": {
			{Name: "list_databases", Description: "List reachable databases", InputSchema: json.RawMessage(`{"type":"object"}`)},
			{Name: "get_health", Description: "Instance health summary"},
		},
		"admin-mcp": {
			{Name: "vacuum_table", Description: "Vacuum one table"},
			{Name: "drop_table", Description: "Drop one table"},
		},
	}}
}

type testServer struct {
	srv     *Server
	engine  *fakeEngine
	invoker *fakeInvoker
	store   *audit.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	engine := &fakeEngine{}
	invoker := &fakeInvoker{}
	store := audit.NewMemoryStore(0)
	resolver := permissions.NewResolver(testCatalog(), time.Minute)

	srv := NewServer(staticConfig{snap: testSnapshot()}, engine, resolver, invoker, store)
	return &testServer{srv: srv, engine: engine, invoker: invoker, store: store}
}

// do runs one request through the full middleware + routing stack.
func (ts *testServer) do(t *testing.T, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}
