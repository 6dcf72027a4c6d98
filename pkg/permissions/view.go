package permissions

import (
	"encoding/json"

	"github.com/codeready-toolchain/bridgy/pkg/llm"
	"github.com/codeready-toolchain/bridgy/pkg/mcp"
)

// Tool is one allowed tool, carrying the schema the MCP server advertised.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ServerTools groups the allowed tools of one MCP server, in catalog order.
type ServerTools struct {
	ServerID     string `json:"server_id"`
	Instructions string `json:"instructions,omitempty"`
	Tools        []Tool `json:"tools"`
}

// ToolsView is the effective tool surface of one user under one config
// snapshot: servers sorted by ID, tools in catalog order, no duplicates.
// Resolving the same (snapshot, user) twice yields an identical view, so a
// request that captured its view at admission is unaffected by later
// config reloads.
type ToolsView struct {
	UserID  string        `json:"user_id"`
	Role    string        `json:"role"`
	Servers []ServerTools `json:"servers"`
}

// ToolCount returns the total number of allowed tools across all servers.
func (v *ToolsView) ToolCount() int {
	n := 0
	for _, s := range v.Servers {
		n += len(s.Tools)
	}
	return n
}

// IsEmpty reports whether the view grants no tools at all.
func (v *ToolsView) IsEmpty() bool {
	return v.ToolCount() == 0
}

// Contains reports whether the view grants toolName on serverID.
func (v *ToolsView) Contains(serverID, toolName string) bool {
	for _, s := range v.Servers {
		if s.ServerID != serverID {
			continue
		}
		for _, t := range s.Tools {
			if t.Name == toolName {
				return true
			}
		}
		return false
	}
	return false
}

// ServerIDs returns the granted server IDs in view order.
func (v *ToolsView) ServerIDs() []string {
	ids := make([]string, 0, len(v.Servers))
	for _, s := range v.Servers {
		ids = append(ids, s.ServerID)
	}
	return ids
}

// AllowedMap flattens the view into the server → tool-names shape the tool
// executor consumes.
func (v *ToolsView) AllowedMap() map[string][]string {
	allowed := make(map[string][]string, len(v.Servers))
	for _, s := range v.Servers {
		names := make([]string, 0, len(s.Tools))
		for _, t := range s.Tools {
			names = append(names, t.Name)
		}
		allowed[s.ServerID] = names
	}
	return allowed
}

// ToolDefinitions flattens the view into model-facing tool declarations
// under canonical server__tool names, preserving view order.
func (v *ToolsView) ToolDefinitions() []llm.ToolDefinition {
	var defs []llm.ToolDefinition
	for _, s := range v.Servers {
		for _, t := range s.Tools {
			defs = append(defs, llm.ToolDefinition{
				Name:        mcp.JoinToolName(s.ServerID, t.Name),
				Description: t.Description,
				InputSchema: t.InputSchema,
			})
		}
	}
	return defs
}
