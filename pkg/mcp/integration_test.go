package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/bridgy/pkg/config"
	"github.com/codeready-toolchain/bridgy/pkg/llm"
	"github.com/codeready-toolchain/bridgy/pkg/services"
)

// TestIntegration_ToolExecution covers the full execution pipeline:
// ToolExecutor.Execute → NormalizeToolName → SplitToolName → ParseToolArguments
// → Client.CallTool → server handler → ToolResult.
func TestIntegration_ToolExecution(t *testing.T) {
	// Server-side handler parses the arguments so the test observes what
	// actually went over the wire.
	echoQuery := func(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var args map[string]any
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "bad arguments: " + err.Error()}},
				IsError: true,
			}, nil
		}
		query, _ := args["query"].(string)
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "rows for: " + query}},
		}, nil
	}

	ts := startTestServer(t, "database-mcp", map[string]mcpsdk.ToolHandler{
		"run_query": echoQuery,
	})

	client := NewTestClient(config.NewMCPServerRegistry(nil), time.Minute)
	t.Cleanup(func() { _ = client.Close() })
	connectSession(t, client, "database-mcp", ts.clientTransport)

	executor := NewToolExecutor(client, map[string][]string{
		"database-mcp": {"run_query"},
	}, nil)

	// JSON arguments, canonical name
	result, err := executor.Execute(context.Background(), llm.ToolCall{
		ID:        "e2e-1",
		Name:      "database-mcp__run_query",
		Arguments: `{"query": "SELECT count(*) FROM orders"}`,
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "rows for: SELECT count(*) FROM orders", result.Content)

	// Key-value arguments exercise the parsing cascade
	result, err = executor.Execute(context.Background(), llm.ToolCall{
		ID:        "e2e-2",
		Name:      "database-mcp__run_query",
		Arguments: "query: SELECT 1",
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "rows for: SELECT 1", result.Content)

	// Dotted display form is normalized before routing; the result keeps the
	// name the model used.
	result, err = executor.Execute(context.Background(), llm.ToolCall{
		ID:        "e2e-3",
		Name:      "database-mcp.run_query",
		Arguments: `{"query": "SELECT 2"}`,
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "rows for: SELECT 2", result.Content)
	assert.Equal(t, "database-mcp.run_query", result.Name)
}

// TestIntegration_MultiServerRouting covers discovery and routing across
// servers sharing one client.
func TestIntegration_MultiServerRouting(t *testing.T) {
	dbServer := startTestServer(t, "database-mcp", map[string]mcpsdk.ToolHandler{
		"run_query": textHandler("db: rows"),
	})
	ghServer := startTestServer(t, "github-mcp", map[string]mcpsdk.ToolHandler{
		"list_issues": textHandler("gh: issues"),
	})

	registry := config.NewMCPServerRegistry(map[string]*config.MCPServerConfig{
		"database-mcp": {Transport: config.TransportConfig{Type: config.TransportTypeStdio, Command: "mock"}},
		"github-mcp":   {Transport: config.TransportConfig{Type: config.TransportTypeStdio, Command: "mock"}},
	})

	client := NewTestClient(registry, time.Minute)
	t.Cleanup(func() { _ = client.Close() })
	connectSession(t, client, "database-mcp", dbServer.clientTransport)
	connectSession(t, client, "github-mcp", ghServer.clientTransport)

	// Discovery sees both servers' catalogs
	catalog, err := client.ListAllTools(context.Background())
	require.NoError(t, err)
	require.Len(t, catalog, 2)
	require.Len(t, catalog["database-mcp"], 1)
	require.Len(t, catalog["github-mcp"], 1)
	assert.Equal(t, "database-mcp__run_query", JoinToolName("database-mcp", catalog["database-mcp"][0].Name))
	assert.Equal(t, "github-mcp__list_issues", JoinToolName("github-mcp", catalog["github-mcp"][0].Name))

	executor := NewToolExecutor(client, map[string][]string{
		"database-mcp": {"run_query"},
		"github-mcp":   {"list_issues"},
	}, nil)

	r1, err := executor.Execute(context.Background(), llm.ToolCall{
		ID: "r1", Name: "database-mcp__run_query", Arguments: "{}",
	})
	require.NoError(t, err)
	assert.Equal(t, "db: rows", r1.Content)

	r2, err := executor.Execute(context.Background(), llm.ToolCall{
		ID: "r2", Name: "github-mcp__list_issues", Arguments: "{}",
	})
	require.NoError(t, err)
	assert.Equal(t, "gh: issues", r2.Content)
}

// TestIntegration_SharedClientScopedExecutors verifies that executors built
// from the same shared client enforce their own allowed snapshots: a live
// session is not enough, the request's permissions decide.
func TestIntegration_SharedClientScopedExecutors(t *testing.T) {
	dbServer := startTestServer(t, "database-mcp", map[string]mcpsdk.ToolHandler{
		"run_query": textHandler("db: rows"),
	})
	ghServer := startTestServer(t, "github-mcp", map[string]mcpsdk.ToolHandler{
		"list_issues": textHandler("gh: issues"),
	})

	client := NewTestClient(config.NewMCPServerRegistry(nil), time.Minute)
	t.Cleanup(func() { _ = client.Close() })
	connectSession(t, client, "database-mcp", dbServer.clientTransport)
	connectSession(t, client, "github-mcp", ghServer.clientTransport)

	dbExec := NewToolExecutor(client, map[string][]string{"database-mcp": {"run_query"}}, nil)
	ghExec := NewToolExecutor(client, map[string][]string{"github-mcp": {"list_issues"}}, nil)

	// Each executor reaches its own server
	r, err := dbExec.Execute(context.Background(), llm.ToolCall{
		ID: "s1", Name: "database-mcp__run_query", Arguments: "{}",
	})
	require.NoError(t, err)
	assert.False(t, r.IsError)
	assert.Equal(t, "db: rows", r.Content)

	r, err = ghExec.Execute(context.Background(), llm.ToolCall{
		ID: "s2", Name: "github-mcp__list_issues", Arguments: "{}",
	})
	require.NoError(t, err)
	assert.False(t, r.IsError)
	assert.Equal(t, "gh: issues", r.Content)

	// Neither crosses into the other's scope
	r, err = dbExec.Execute(context.Background(), llm.ToolCall{
		ID: "s3", Name: "github-mcp__list_issues", Arguments: "{}",
	})
	require.NoError(t, err)
	assert.True(t, r.IsError)
	assert.Contains(t, r.Content, "not permitted for this request")

	r, err = ghExec.Execute(context.Background(), llm.ToolCall{
		ID: "s4", Name: "database-mcp__run_query", Arguments: "{}",
	})
	require.NoError(t, err)
	assert.True(t, r.IsError)
	assert.Contains(t, r.Content, "not permitted for this request")
}

// TestIntegration_HealthMonitorLifecycle covers healthy → failure → recovery.
func TestIntegration_HealthMonitorLifecycle(t *testing.T) {
	ts := startTestServer(t, "database-mcp", map[string]mcpsdk.ToolHandler{
		"run_query": textHandler("ok"),
	})

	registry := config.NewMCPServerRegistry(nil)
	warningsSvc := services.NewWarnings()
	factory := NewClientFactory(registry, time.Minute)
	monitor := NewHealthMonitor(factory, registry, warningsSvc)
	monitor.pingTimeout = 2 * time.Second

	client := NewTestClient(registry, time.Minute)
	t.Cleanup(func() { _ = client.Close() })
	connectSession(t, client, "database-mcp", ts.clientTransport)
	monitor.client = client

	// Phase 1: healthy
	monitor.checkServer(context.Background(), "database-mcp")
	assert.True(t, monitor.IsHealthy())
	assert.Empty(t, warningsSvc.Active())
	status := monitor.Statuses()["database-mcp"]
	require.NotNil(t, status)
	assert.True(t, status.Healthy)
	assert.Empty(t, status.Error)
	assert.Equal(t, 1, status.ToolCount)

	// Phase 2: failure (session closed and gone, reinit has no registry entry)
	client.mu.Lock()
	if session, exists := client.sessions["database-mcp"]; exists {
		_ = session.Close()
		delete(client.sessions, "database-mcp")
		delete(client.clients, "database-mcp")
	}
	client.mu.Unlock()

	monitor.checkServer(context.Background(), "database-mcp")
	assert.False(t, monitor.IsHealthy())
	warnings := warningsSvc.Active()
	require.Len(t, warnings, 1)
	assert.Equal(t, services.WarningCategoryMCPHealth, warnings[0].Category)
	assert.Equal(t, "database-mcp", warnings[0].ServerID)
	assert.NotEmpty(t, warnings[0].Message)
	status = monitor.Statuses()["database-mcp"]
	require.NotNil(t, status)
	assert.False(t, status.Healthy)
	assert.NotEmpty(t, status.Error)

	// Phase 3: recovery with a fresh server under the same ID
	ts2 := startTestServer(t, "database-mcp", map[string]mcpsdk.ToolHandler{
		"run_query": textHandler("ok"),
	})
	connectSession(t, client, "database-mcp", ts2.clientTransport)

	monitor.checkServer(context.Background(), "database-mcp")
	assert.True(t, monitor.IsHealthy())
	assert.Empty(t, warningsSvc.Active())
	status = monitor.Statuses()["database-mcp"]
	require.NotNil(t, status)
	assert.True(t, status.Healthy)
	assert.Empty(t, status.Error)
}
