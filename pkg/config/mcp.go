package config

import (
	"fmt"
	"sort"
	"sync"
)

// MCPServerConfig defines MCP server configuration
type MCPServerConfig struct {
	// Transport configuration (required)
	Transport TransportConfig `yaml:"transport" validate:"required"`

	// Enabled toggles the server without removing it from config.
	// nil means enabled (the default).
	Enabled *bool `yaml:"enabled,omitempty"`

	// Instructions for the LLM when using this MCP server
	Instructions string `yaml:"instructions,omitempty"`

	// ToolPolicy filters which advertised tools are exposed at all.
	// nil means allow_all.
	ToolPolicy *ToolPolicy `yaml:"tool_policy,omitempty"`

	// DataMasking scrubs secrets from this server's tool results.
	// nil means no masking.
	DataMasking *MaskingConfig `yaml:"data_masking,omitempty"`
}

// IsEnabled reports whether the server participates in routing and discovery.
func (c *MCPServerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// PolicyMode returns the effective tool policy mode (allow_all when unset).
func (c *MCPServerConfig) PolicyMode() ToolPolicyMode {
	if c.ToolPolicy == nil || c.ToolPolicy.Mode == "" {
		return ToolPolicyAllowAll
	}
	return c.ToolPolicy.Mode
}

// MCPServerRegistry stores MCP server configurations in memory with thread-safe access
type MCPServerRegistry struct {
	servers map[string]*MCPServerConfig
	mu      sync.RWMutex
}

// NewMCPServerRegistry creates a new MCP server registry
func NewMCPServerRegistry(servers map[string]*MCPServerConfig) *MCPServerRegistry {
	return &MCPServerRegistry{
		servers: servers,
	}
}

// Get retrieves an MCP server configuration by ID (thread-safe)
func (r *MCPServerRegistry) Get(serverID string) (*MCPServerConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	server, exists := r.servers[serverID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrMCPServerNotFound, serverID)
	}
	return server, nil
}

// GetAll returns all MCP server configurations (thread-safe, returns copy)
func (r *MCPServerRegistry) GetAll() map[string]*MCPServerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Return a copy to prevent external modification
	result := make(map[string]*MCPServerConfig, len(r.servers))
	for k, v := range r.servers {
		result[k] = v
	}
	return result
}

// Has checks if an MCP server exists in the registry (thread-safe)
func (r *MCPServerRegistry) Has(serverID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.servers[serverID]
	return exists
}

// Len returns the number of MCP servers in the registry (thread-safe)
func (r *MCPServerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.servers)
}

// ServerIDs returns all server IDs in sorted order (thread-safe).
// Sorted output keeps permission views and API listings deterministic.
func (r *MCPServerRegistry) ServerIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.servers))
	for id := range r.servers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// EnabledServerIDs returns the IDs of enabled servers in sorted order (thread-safe).
func (r *MCPServerRegistry) EnabledServerIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.servers))
	for id, server := range r.servers {
		if server.IsEnabled() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
