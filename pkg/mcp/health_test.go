package mcp

import (
	"context"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/bridgy/pkg/config"
	"github.com/codeready-toolchain/bridgy/pkg/services"
)

func TestHealthMonitor_HealthyServer(t *testing.T) {
	ts := startTestServer(t, "database-mcp", map[string]mcpsdk.ToolHandler{
		"run_query": textHandler("ok"),
	})

	registry := config.NewMCPServerRegistry(nil)
	warningsSvc := services.NewWarnings()
	factory := NewClientFactory(registry, time.Minute)

	monitor := NewHealthMonitor(factory, registry, warningsSvc)
	monitor.checkInterval = 50 * time.Millisecond // Fast for tests
	monitor.pingTimeout = 5 * time.Second

	// Wire client directly for test
	client := NewTestClient(registry, time.Minute)
	connectSession(t, client, "database-mcp", ts.clientTransport)
	t.Cleanup(func() { _ = client.Close() })
	monitor.client = client

	// Manually run a check
	monitor.checkServer(context.Background(), "database-mcp")

	statuses := monitor.Statuses()
	require.Contains(t, statuses, "database-mcp")
	assert.True(t, statuses["database-mcp"].Healthy)
	assert.Equal(t, HealthStateHealthy, statuses["database-mcp"].State)
	assert.Equal(t, 1, statuses["database-mcp"].ToolCount)

	// No warnings should be set
	assert.Empty(t, warningsSvc.Active())

	assert.True(t, monitor.IsHealthy())
}

func TestHealthMonitor_UnhealthyServer(t *testing.T) {
	registry := config.NewMCPServerRegistry(nil)
	warningsSvc := services.NewWarnings()
	factory := NewClientFactory(registry, time.Minute)

	monitor := NewHealthMonitor(factory, registry, warningsSvc)
	monitor.pingTimeout = 1 * time.Second

	// Client with no sessions (simulating connection failure)
	client := NewTestClient(registry, time.Minute)
	monitor.client = client

	monitor.checkServer(context.Background(), "broken-server")

	statuses := monitor.Statuses()
	require.Contains(t, statuses, "broken-server")
	assert.False(t, statuses["broken-server"].Healthy)
	assert.Equal(t, HealthStateUnhealthy, statuses["broken-server"].State)
	assert.NotEmpty(t, statuses["broken-server"].Error)

	// Warning should be set
	warnings := warningsSvc.Active()
	require.Len(t, warnings, 1)
	assert.Equal(t, services.WarningCategoryMCPHealth, warnings[0].Category)
	assert.Equal(t, "broken-server", warnings[0].ServerID)

	assert.False(t, monitor.IsHealthy())
}

func TestHealthMonitor_WarningClearedOnRecovery(t *testing.T) {
	ts := startTestServer(t, "database-mcp", map[string]mcpsdk.ToolHandler{
		"run_query": textHandler("ok"),
	})

	registry := config.NewMCPServerRegistry(nil)
	warningsSvc := services.NewWarnings()
	factory := NewClientFactory(registry, time.Minute)

	// Pre-add a warning
	warningsSvc.Add(services.WarningCategoryMCPHealth, "unhealthy", "", "database-mcp")
	assert.Len(t, warningsSvc.Active(), 1)

	monitor := NewHealthMonitor(factory, registry, warningsSvc)
	client := NewTestClient(registry, time.Minute)
	connectSession(t, client, "database-mcp", ts.clientTransport)
	t.Cleanup(func() { _ = client.Close() })
	monitor.client = client

	// Check should pass and clear the warning
	monitor.checkServer(context.Background(), "database-mcp")

	assert.Empty(t, warningsSvc.Active())
	assert.True(t, monitor.IsHealthy())
}

func TestHealthMonitor_StartStop(t *testing.T) {
	registry := config.NewMCPServerRegistry(map[string]*config.MCPServerConfig{
		"database-mcp": {
			Transport: config.TransportConfig{
				Type:    config.TransportTypeStdio,
				Command: "mock", // Overridden by in-memory transport
			},
		},
	})
	warningsSvc := services.NewWarnings()

	// Each CreateClient call gets a fresh in-memory server, so the monitor
	// can be started, stopped, and started again.
	factory := NewTestClientFactory(registry, time.Minute, func(c *Client) {
		ts := startTestServer(t, "database-mcp", map[string]mcpsdk.ToolHandler{
			"run_query": textHandler("ok"),
		})
		connectSession(t, c, "database-mcp", ts.clientTransport)
	})

	monitor := NewHealthMonitor(factory, registry, warningsSvc)
	monitor.checkInterval = 50 * time.Millisecond

	monitor.Start(context.Background())

	require.Eventually(t, func() bool {
		statuses := monitor.Statuses()
		s, ok := statuses["database-mcp"]
		return ok && s.Healthy
	}, 2*time.Second, 25*time.Millisecond, "health check should have run at least once")

	monitor.Stop()

	assert.Empty(t, monitor.Statuses(), "Stop should clear health state")
	assert.False(t, monitor.IsHealthy())

	// Restart after Stop
	monitor.Start(context.Background())
	require.Eventually(t, func() bool {
		statuses := monitor.Statuses()
		s, ok := statuses["database-mcp"]
		return ok && s.Healthy
	}, 2*time.Second, 25*time.Millisecond, "monitor should probe again after restart")
	monitor.Stop()
}

func TestHealthMonitor_SeedsUnknownOnStart(t *testing.T) {
	registry := config.NewMCPServerRegistry(map[string]*config.MCPServerConfig{
		"database-mcp": {
			Transport: config.TransportConfig{Type: config.TransportTypeStdio, Command: "mock"},
		},
	})
	warningsSvc := services.NewWarnings()

	// Client creation and the first probe happen on the loop goroutine, so
	// right after Start the server is either seeded or already probed.
	factory := NewTestClientFactory(registry, time.Minute, func(c *Client) {
		ts := startTestServer(t, "database-mcp", map[string]mcpsdk.ToolHandler{
			"run_query": textHandler("ok"),
		})
		connectSession(t, c, "database-mcp", ts.clientTransport)
	})

	monitor := NewHealthMonitor(factory, registry, warningsSvc)
	monitor.checkInterval = time.Hour // No periodic checks during the test

	monitor.Start(context.Background())
	t.Cleanup(monitor.Stop)

	// Immediately after Start the server must be present, either still in
	// the seeded unknown state or already probed healthy.
	statuses := monitor.Statuses()
	require.Contains(t, statuses, "database-mcp")
	assert.Contains(t, []string{HealthStateUnknown, HealthStateHealthy}, statuses["database-mcp"].State)
}
