package api

import (
	"github.com/codeready-toolchain/bridgy/pkg/audit"
	"github.com/codeready-toolchain/bridgy/pkg/database"
	"github.com/codeready-toolchain/bridgy/pkg/mcp"
	"github.com/codeready-toolchain/bridgy/pkg/models"
	"github.com/codeready-toolchain/bridgy/pkg/services"
)

// AskChatResponse is returned by POST /api/v1/chat/ask for every terminal
// outcome; the HTTP status distinguishes rejected and failed requests.
type AskChatResponse struct {
	Success      bool              `json:"success"`
	Answer       string            `json:"answer"`
	Warning      string            `json:"warning,omitempty"`
	Iterations   int               `json:"iterations"`
	ToolCalls    int               `json:"tool_calls"`
	ToolsUsed    []string          `json:"tools_used"`
	MCPsAccessed []string          `json:"mcps_accessed"`
	Usage        models.TokenUsage `json:"usage"`
	CostEstimate float64           `json:"cost_estimate"`
	DurationMs   int64             `json:"duration_ms"`
}

func newAskChatResponse(result *models.AskResult) *AskChatResponse {
	return &AskChatResponse{
		Success:      result.Status != models.AuditStatusError,
		Answer:       result.Answer,
		Warning:      result.Warning,
		Iterations:   result.Iterations,
		ToolCalls:    result.ToolCalls,
		ToolsUsed:    result.ToolsUsed,
		MCPsAccessed: result.MCPsAccessed,
		Usage:        result.Usage,
		CostEstimate: result.CostEstimate,
		DurationMs:   result.DurationMs,
	}
}

// ToolInfo describes one tool visible to a user.
type ToolInfo struct {
	Name        string `json:"name"`         // qualified wire form server__tool
	DisplayName string `json:"display_name"` // prose form server.tool
	Description string `json:"description,omitempty"`
}

// ServerToolsView groups a user's visible tools under one MCP server.
type ServerToolsView struct {
	Server       string     `json:"server"`
	Instructions string     `json:"instructions,omitempty"`
	Tools        []ToolInfo `json:"tools"`
}

// ToolsResponse is returned by GET /api/v1/mcp/tools.
type ToolsResponse struct {
	UserID    string            `json:"user_id"`
	Role      string            `json:"role"`
	ToolCount int               `json:"tool_count"`
	Servers   []ServerToolsView `json:"servers"`
}

// CallToolResponse is returned by POST /api/v1/mcp/tools/call. A denied
// call carries Allowed=false and the decision reason with HTTP 403; an
// executed call carries the tool output, with IsError set for tool-level
// failures.
type CallToolResponse struct {
	Server  string `json:"server"`
	Tool    string `json:"tool"`
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
	IsError bool   `json:"is_error,omitempty"`
	Content string `json:"content,omitempty"`
}

// MCPServerInfo is one entry of GET /api/v1/mcp/servers.
type MCPServerInfo struct {
	ID         string `json:"id"`
	Enabled    bool   `json:"enabled"`
	Transport  string `json:"transport"`
	ToolPolicy string `json:"tool_policy"`
	Health     string `json:"health"`
	ToolCount  int    `json:"tool_count,omitempty"`
	LastCheck  string `json:"last_check,omitempty"`
	Error      string `json:"error,omitempty"`
}

// MCPServersResponse is returned by GET /api/v1/mcp/servers.
type MCPServersResponse struct {
	Servers []MCPServerInfo `json:"servers"`
}

// CacheInvalidatedResponse is returned by the cache invalidation endpoints.
type CacheInvalidatedResponse struct {
	Server  string `json:"server,omitempty"`
	Message string `json:"message"`
}

// AuditRecordsResponse is returned by GET /api/v1/audit/records.
type AuditRecordsResponse struct {
	Records []*models.AuditRecord `json:"records"`
	Count   int                   `json:"count"`
}

// UserServerPermission summarizes one user's access to one MCP server.
type UserServerPermission struct {
	Server  string `json:"server"`
	Enabled bool   `json:"enabled"`
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
	// VisibleTools counts the advertised tools the user may call right now;
	// it stays 0 for servers that are denied, disabled, or unreachable.
	VisibleTools int `json:"visible_tools"`
}

// UserPermissionsResponse is returned by GET /api/v1/users/:id/permissions.
type UserPermissionsResponse struct {
	UserID      string                 `json:"user_id"`
	Known       bool                   `json:"known"`
	Role        string                 `json:"role"`
	DisplayName string                 `json:"display_name,omitempty"`
	RateLimit   int                    `json:"rate_limit"` // -1 means unlimited
	ToolCount   int                    `json:"tool_count"`
	Servers     []UserServerPermission `json:"servers"`
}

// HealthCheck is one component entry in the /health response.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ConfigurationStats reports the size of the loaded configuration.
type ConfigurationStats struct {
	MCPServers int `json:"mcp_servers"`
	Roles      int `json:"roles"`
	Users      int `json:"users"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status        string                       `json:"status"`
	Version       string                       `json:"version"`
	Checks        map[string]HealthCheck       `json:"checks"`
	Configuration ConfigurationStats           `json:"configuration"`
	Database      *database.HealthStatus       `json:"database,omitempty"`
	MCPServers    map[string]*mcp.HealthStatus `json:"mcp_servers,omitempty"`
	Warnings      []*services.SystemWarning    `json:"warnings,omitempty"`
	AuditQueue    *audit.Stats                 `json:"audit_queue,omitempty"`
}
