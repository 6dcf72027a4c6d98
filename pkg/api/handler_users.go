package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/bridgy/pkg/permissions"
)

// userPermissionsHandler handles GET /api/v1/users/:id/permissions.
// Summarizes the user's effective role, rate limit, and per-server access
// decisions. Unknown users resolve to the default role, reported with
// known=false rather than 404, because that is exactly how a chat request
// from them would be treated.
func (s *Server) userPermissionsHandler(c *echo.Context) error {
	userID := c.Param("id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user id is required")
	}

	snap := s.snapshots.Snapshot()
	user := snap.ResolveUser(userID)
	view := s.resolver.AllowedTools(c.Request().Context(), snap, userID)

	visible := map[string]int{}
	for _, server := range view.Servers {
		visible[server.ServerID] = len(server.Tools)
	}

	response := &UserPermissionsResponse{
		UserID:      user.UserID,
		Known:       user.Known,
		Role:        user.Role,
		DisplayName: user.DisplayName,
		RateLimit:   user.RateLimit,
		ToolCount:   view.ToolCount(),
		Servers:     []UserServerPermission{},
	}

	for _, serverID := range snap.MCPServerRegistry.ServerIDs() {
		serverCfg, err := snap.GetMCPServer(serverID)
		if err != nil {
			continue
		}
		decision := permissions.EvaluateServer(snap, user, serverID)
		response.Servers = append(response.Servers, UserServerPermission{
			Server:       serverID,
			Enabled:      serverCfg.IsEnabled(),
			Allowed:      decision.Allowed,
			Reason:       decision.Reason,
			VisibleTools: visible[serverID],
		})
	}

	return c.JSON(http.StatusOK, response)
}
