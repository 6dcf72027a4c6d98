package e2e

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/bridgy/pkg/config"
	"github.com/codeready-toolchain/bridgy/pkg/mcp"
)

// emptySchema is the minimal valid input schema for scripted test tools.
var emptySchema = json.RawMessage(`{"type":"object"}`)

// toolTable maps serverID to that server's scripted tool handlers.
type toolTable map[string]map[string]mcpsdk.ToolHandler

// SetupInMemoryMCP returns a real *mcp.ClientFactory whose clients talk to
// in-memory MCP servers running the given scripted handlers.
//
// Every CreateClient call gets fresh transports and sessions, so consecutive
// clients never share a connection. The registry must be the one carried by
// the configuration snapshot so permission evaluation and tool routing
// resolve against the same server table the client uses.
func SetupInMemoryMCP(t *testing.T, registry *config.MCPServerRegistry, servers toolTable) *mcp.ClientFactory {
	t.Helper()

	return mcp.NewTestClientFactory(registry, time.Minute, func(c *mcp.Client) {
		for serverID, tools := range servers {
			sdkClient, session := connectInMemory(t, serverID, tools)
			c.InjectSession(serverID, sdkClient, session)
		}
	})
}

// connectInMemory starts one in-memory MCP server with the given tools and
// returns a connected SDK client and session for it. The server goroutine
// stops when the test finishes.
func connectInMemory(t *testing.T, serverID string, tools map[string]mcpsdk.ToolHandler) (*mcpsdk.Client, *mcpsdk.ClientSession) {
	t.Helper()

	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name: serverID, Version: "test",
	}, nil)
	for toolName, handler := range tools {
		server.AddTool(&mcpsdk.Tool{
			Name:        toolName,
			Description: "test tool: " + toolName,
			InputSchema: emptySchema,
		}, handler)
	}

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = server.Run(ctx, serverTransport) }()

	sdkClient := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name: "bridgy-e2e", Version: "test",
	}, nil)
	session, err := sdkClient.Connect(context.Background(), clientTransport, nil)
	require.NoError(t, err)

	return sdkClient, session
}

// StaticToolHandler scripts a tool that always answers with the given text.
func StaticToolHandler(text string) mcpsdk.ToolHandler {
	return func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
		}, nil
	}
}

// ErrorToolHandler scripts a tool that always fails with the given error.
func ErrorToolHandler(err error) mcpsdk.ToolHandler {
	return func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		return nil, err
	}
}
