package api

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/bridgy/pkg/mcp"
	"github.com/codeready-toolchain/bridgy/pkg/permissions"
)

// listToolsHandler handles GET /api/v1/mcp/tools.
// Returns the caller's allowed-tools view: only tools the user may actually
// invoke, grouped by server.
func (s *Server) listToolsHandler(c *echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id query parameter is required")
	}

	snap := s.snapshots.Snapshot()
	view := s.resolver.AllowedTools(c.Request().Context(), snap, userID)

	return c.JSON(http.StatusOK, newToolsResponse(view))
}

// serverToolsHandler handles GET /api/v1/mcp/servers/:server/tools.
// Same view as listToolsHandler, narrowed to one server.
func (s *Server) serverToolsHandler(c *echo.Context) error {
	serverID := c.Param("server")
	userID := c.QueryParam("user_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id query parameter is required")
	}

	snap := s.snapshots.Snapshot()
	if !snap.MCPServerRegistry.Has(serverID) {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("MCP server %q not found", serverID))
	}

	view := s.resolver.AllowedTools(c.Request().Context(), snap, userID)
	for _, server := range view.Servers {
		if server.ServerID == serverID {
			return c.JSON(http.StatusOK, newServerToolsView(server))
		}
	}

	// Registered but nothing visible: denied, disabled, or unreachable.
	return c.JSON(http.StatusOK, ServerToolsView{Server: serverID, Tools: []ToolInfo{}})
}

// callToolHandler handles POST /api/v1/mcp/tools/call: a direct,
// permission-checked tool invocation outside any chat exchange.
//
// Permission denials return 403 with the decision reason. Transport-level
// call failures return 502; tool-level failures come back 200 with the
// is_error flag, mirroring what the agentic loop feeds the model.
func (s *Server) callToolHandler(c *echo.Context) error {
	var req CallToolRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.UserID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id field is required")
	}
	if req.Server == "" || req.Tool == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "server and tool fields are required")
	}

	snap := s.snapshots.Snapshot()
	if !snap.MCPServerRegistry.Has(req.Server) {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("MCP server %q not found", req.Server))
	}

	decision := s.resolver.Check(snap, req.UserID, req.Server, req.Tool)
	if !decision.Allowed {
		return c.JSON(http.StatusForbidden, &CallToolResponse{
			Server:  req.Server,
			Tool:    req.Tool,
			Allowed: false,
			Reason:  decision.Reason,
		})
	}

	result, err := s.tools.CallTool(c.Request().Context(), req.Server, req.Tool, req.Arguments)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, fmt.Sprintf("MCP tool call failed: %s", err))
	}

	content := mcp.ExtractText(result)
	if s.masker != nil {
		content = s.masker.MaskToolResult(content, req.Server)
	}

	return c.JSON(http.StatusOK, &CallToolResponse{
		Server:  req.Server,
		Tool:    req.Tool,
		Allowed: true,
		Reason:  decision.Reason,
		IsError: result.IsError,
		Content: content,
	})
}

// listServersHandler handles GET /api/v1/mcp/servers.
// Lists every registered server with its configuration and, when the health
// monitor runs, its latest probe outcome.
func (s *Server) listServersHandler(c *echo.Context) error {
	snap := s.snapshots.Snapshot()

	statuses := map[string]*mcp.HealthStatus{}
	if s.healthMonitor != nil {
		statuses = s.healthMonitor.Statuses()
	}

	response := MCPServersResponse{Servers: []MCPServerInfo{}}
	for id, serverCfg := range snap.MCPServerRegistry.GetAll() {
		info := MCPServerInfo{
			ID:         id,
			Enabled:    serverCfg.IsEnabled(),
			Transport:  string(serverCfg.Transport.Type),
			ToolPolicy: string(serverCfg.PolicyMode()),
			Health:     mcp.HealthStateUnknown,
		}
		if status, ok := statuses[id]; ok {
			info.Health = status.State
			info.ToolCount = status.ToolCount
			info.LastCheck = status.LastCheck.Format(time.RFC3339)
			info.Error = status.Error
		}
		response.Servers = append(response.Servers, info)
	}

	sort.Slice(response.Servers, func(i, j int) bool {
		return response.Servers[i].ID < response.Servers[j].ID
	})

	return c.JSON(http.StatusOK, response)
}

// invalidateCacheHandler handles POST /api/v1/mcp/cache/invalidate and
// POST /api/v1/mcp/cache/invalidate/:server. The next tool listing refetches
// from the server(s); cached permission views are dropped with it since they
// embed tool lists.
func (s *Server) invalidateCacheHandler(c *echo.Context) error {
	serverID := c.Param("server")

	if serverID != "" {
		snap := s.snapshots.Snapshot()
		if !snap.MCPServerRegistry.Has(serverID) {
			return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("MCP server %q not found", serverID))
		}
		s.tools.InvalidateToolCache(serverID)
	} else {
		s.tools.InvalidateAll()
	}
	s.resolver.InvalidateAll()

	return c.JSON(http.StatusOK, &CacheInvalidatedResponse{
		Server:  serverID,
		Message: "tool cache invalidated",
	})
}

func newToolsResponse(view *permissions.ToolsView) *ToolsResponse {
	response := &ToolsResponse{
		UserID:    view.UserID,
		Role:      view.Role,
		ToolCount: view.ToolCount(),
		Servers:   []ServerToolsView{},
	}
	for _, server := range view.Servers {
		response.Servers = append(response.Servers, newServerToolsView(server))
	}
	return response
}

func newServerToolsView(server permissions.ServerTools) ServerToolsView {
	out := ServerToolsView{
		Server:       server.ServerID,
		Instructions: server.Instructions,
		Tools:        []ToolInfo{},
	}
	for _, tool := range server.Tools {
		out.Tools = append(out.Tools, ToolInfo{
			Name:        mcp.JoinToolName(server.ServerID, tool.Name),
			DisplayName: mcp.DisplayToolName(server.ServerID, tool.Name),
			Description: tool.Description,
		})
	}
	return out
}
