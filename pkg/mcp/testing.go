package mcp

import (
	"context"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codeready-toolchain/bridgy/pkg/config"
)

// InjectSession wires a pre-connected SDK session into the Client. Test
// infrastructure uses it to attach in-memory MCP servers without going
// through the transport creation path in Initialize.
func (c *Client) InjectSession(serverID string, sdkClient *mcpsdk.Client, session *mcpsdk.ClientSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[serverID] = session
	c.clients[serverID] = sdkClient
	delete(c.failedServers, serverID)
}

// NewTestClient creates a Client with no live sessions. Pair with
// InjectSession to attach in-memory servers.
func NewTestClient(registry *config.MCPServerRegistry, cacheTTL time.Duration) *Client {
	return newClient(registry, cacheTTL)
}

// NewTestClientFactory creates a ClientFactory whose CreateClient hands each
// fresh Client to injectFn instead of dialing transports. Used to run the
// health monitor against in-memory MCP servers.
func NewTestClientFactory(registry *config.MCPServerRegistry, cacheTTL time.Duration, injectFn func(c *Client)) *ClientFactory {
	return &ClientFactory{
		registry: registry,
		cacheTTL: cacheTTL,
		createClientFn: func(_ context.Context, _ []string) (*Client, error) {
			c := newClient(registry, cacheTTL)
			injectFn(c)
			return c, nil
		},
	}
}
