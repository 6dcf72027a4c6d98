package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/bridgy/pkg/config"
	"github.com/codeready-toolchain/bridgy/pkg/services"
)

// Server health states. Every server starts at unknown and moves to healthy
// on its first successful probe; after that each probe result switches it
// between healthy and unhealthy.
const (
	HealthStateUnknown   = "unknown"
	HealthStateHealthy   = "healthy"
	HealthStateUnhealthy = "unhealthy"
)

// HealthStatus captures the latest probe result for a single MCP server.
type HealthStatus struct {
	ServerID  string    `json:"server_id"`
	State     string    `json:"state"`
	Healthy   bool      `json:"healthy"`
	LastCheck time.Time `json:"last_check"`
	Error     string    `json:"error,omitempty"`
	ToolCount int       `json:"tool_count"`
}

// HealthMonitor probes every enabled MCP server on an interval using a
// dedicated client, so probe traffic never competes with request traffic for
// sessions. A failing server is reported and warned about, never fatal; the
// next tick probes it again.
type HealthMonitor struct {
	factory        *ClientFactory
	registry       *config.MCPServerRegistry
	warningService *services.Warnings

	checkInterval time.Duration
	pingTimeout   time.Duration

	// Probe client. Created lazily by the loop and rebuilt after factory
	// failures.
	client   *Client
	clientMu sync.Mutex

	statuses   map[string]*HealthStatus
	statusesMu sync.RWMutex

	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger
}

// NewHealthMonitor creates a monitor over the registry's enabled servers.
func NewHealthMonitor(
	factory *ClientFactory,
	registry *config.MCPServerRegistry,
	warningService *services.Warnings,
) *HealthMonitor {
	return &HealthMonitor{
		factory:        factory,
		registry:       registry,
		warningService: warningService,
		checkInterval:  MCPHealthInterval,
		pingTimeout:    MCPHealthPingTimeout,
		statuses:       make(map[string]*HealthStatus),
		logger:         slog.Default(),
	}
}

// Start seeds every enabled server at "unknown" and launches the probe loop.
// The seed makes /health report servers before the first probe completes.
// Start on a running monitor is a no-op.
func (m *HealthMonitor) Start(ctx context.Context) {
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	m.statusesMu.Lock()
	for _, serverID := range m.registry.EnabledServerIDs() {
		m.statuses[serverID] = &HealthStatus{
			ServerID: serverID,
			State:    HealthStateUnknown,
		}
	}
	m.statusesMu.Unlock()

	go m.loop(ctx)
}

// Stop shuts the loop down, closes the probe client, and clears all health
// state so a later Start does not report servers from a previous config.
func (m *HealthMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.done != nil {
		<-m.done
	}

	m.clientMu.Lock()
	if m.client != nil {
		_ = m.client.Close()
		m.client = nil
	}
	m.clientMu.Unlock()

	m.statusesMu.Lock()
	m.statuses = make(map[string]*HealthStatus)
	m.statusesMu.Unlock()

	m.cancel = nil
	m.done = nil
}

func (m *HealthMonitor) loop(ctx context.Context) {
	defer close(m.done)

	m.connect(ctx)
	m.checkAll(ctx)

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.connect(ctx)
			m.checkAll(ctx)
		}
	}
}

// connect creates the probe client when none exists. Failures are logged and
// retried on the next tick.
func (m *HealthMonitor) connect(ctx context.Context) {
	m.clientMu.Lock()
	defer m.clientMu.Unlock()

	if m.client != nil {
		return
	}

	client, err := m.factory.CreateClient(ctx, m.registry.EnabledServerIDs())
	if err != nil {
		m.logger.Warn("Health monitor: probe client creation failed", "error", err)
		return
	}
	m.client = client
	m.logger.Info("Health monitor: probe client ready")
}

func (m *HealthMonitor) checkAll(ctx context.Context) {
	for _, serverID := range m.registry.EnabledServerIDs() {
		m.checkServer(ctx, serverID)
	}
}

// checkServer performs one probe: invalidate the cached catalog so the fetch
// hits the wire, list tools, and on failure attempt one session rebuild
// before declaring the server unhealthy.
func (m *HealthMonitor) checkServer(ctx context.Context, serverID string) {
	m.clientMu.Lock()
	client := m.client
	m.clientMu.Unlock()

	if client == nil {
		m.setStatus(serverID, HealthStateUnhealthy, "health client not initialized", 0)
		return
	}

	client.InvalidateToolCache(serverID)

	checkCtx, checkCancel := context.WithTimeout(ctx, m.pingTimeout)
	defer checkCancel()

	tools, err := client.fetchTools(checkCtx, serverID)
	if err != nil {
		m.logger.Debug("Health probe failed, rebuilding session",
			"server", serverID, "error", err)

		reconCtx, reconCancel := context.WithTimeout(ctx, m.pingTimeout)
		defer reconCancel()

		if reinitErr := client.recreateSession(reconCtx, serverID); reinitErr != nil {
			m.markUnhealthy(serverID, fmt.Sprintf("health check failed: %s", err.Error()))
			return
		}

		retryCtx, retryCancel := context.WithTimeout(ctx, m.pingTimeout)
		defer retryCancel()

		tools, err = client.fetchTools(retryCtx, serverID)
		if err != nil {
			m.markUnhealthy(serverID, fmt.Sprintf("health check failed after reinit: %s", err.Error()))
			return
		}
	}

	m.setStatus(serverID, HealthStateHealthy, "", len(tools))
	m.warningService.Clear(services.WarningCategoryMCPHealth, serverID)
}

func (m *HealthMonitor) markUnhealthy(serverID, errMsg string) {
	m.setStatus(serverID, HealthStateUnhealthy, errMsg, 0)
	m.warningService.Add(
		services.WarningCategoryMCPHealth,
		fmt.Sprintf("MCP server %q is unhealthy", serverID),
		errMsg, serverID)
}

// setStatus records the probe result and logs state transitions.
func (m *HealthMonitor) setStatus(serverID, state, errMsg string, toolCount int) {
	m.statusesMu.Lock()
	prev := HealthStateUnknown
	if existing, ok := m.statuses[serverID]; ok {
		prev = existing.State
	}
	m.statuses[serverID] = &HealthStatus{
		ServerID:  serverID,
		State:     state,
		Healthy:   state == HealthStateHealthy,
		LastCheck: time.Now(),
		Error:     errMsg,
		ToolCount: toolCount,
	}
	m.statusesMu.Unlock()

	if prev != state {
		m.logger.Info("MCP server health transition",
			"server", serverID, "from", prev, "to", state, "error", errMsg)
	}
}

// Statuses returns a copy of the current per-server health map.
func (m *HealthMonitor) Statuses() map[string]*HealthStatus {
	m.statusesMu.RLock()
	defer m.statusesMu.RUnlock()
	result := make(map[string]*HealthStatus, len(m.statuses))
	for k, v := range m.statuses {
		cp := *v
		result[k] = &cp
	}
	return result
}

// IsHealthy reports whether every monitored server is currently healthy.
// False until the first probe completes.
func (m *HealthMonitor) IsHealthy() bool {
	m.statusesMu.RLock()
	defer m.statusesMu.RUnlock()
	if len(m.statuses) == 0 {
		return false
	}
	for _, s := range m.statuses {
		if s.State != HealthStateHealthy {
			return false
		}
	}
	return true
}
