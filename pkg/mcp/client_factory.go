package mcp

import (
	"context"
	"time"

	"github.com/codeready-toolchain/bridgy/pkg/config"
)

// ClientFactory creates Client instances bound to one server registry and
// tool-cache TTL. The bridge holds two clients: the shared request-serving
// client and the health monitor's dedicated probe client.
type ClientFactory struct {
	registry *config.MCPServerRegistry
	cacheTTL time.Duration

	// createClientFn, when set, replaces transport-backed construction.
	// Test infrastructure uses it to wire in-memory sessions.
	createClientFn func(ctx context.Context, serverIDs []string) (*Client, error)
}

// NewClientFactory creates a new factory.
func NewClientFactory(registry *config.MCPServerRegistry, cacheTTL time.Duration) *ClientFactory {
	return &ClientFactory{registry: registry, cacheTTL: cacheTTL}
}

// CreateClient creates a new Client connected to the specified servers.
// Connection failures are recorded per server, not returned; check
// FailedServers() when startup validation requires every server up.
// The caller is responsible for calling Close() when done.
func (f *ClientFactory) CreateClient(ctx context.Context, serverIDs []string) (*Client, error) {
	if f.createClientFn != nil {
		return f.createClientFn(ctx, serverIDs)
	}

	client := newClient(f.registry, f.cacheTTL)
	if err := client.Initialize(ctx, serverIDs); err != nil {
		_ = client.Close() // Clean up partial initialization
		return nil, err
	}
	return client, nil
}
