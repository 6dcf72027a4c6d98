package config

// Config is one immutable snapshot of the full configuration: defaults,
// model settings, and the server and user registries. Initialize builds it;
// hot reload builds a fresh Config and swaps it in behind the Provider, so
// nothing ever mutates a published snapshot.
type Config struct {
	configDir string // where this snapshot was loaded from

	Defaults *Defaults
	LLM      *LLMConfig

	MCPServerRegistry *MCPServerRegistry
	UserRegistry      *UserRegistry
}

// Stats summarizes a loaded snapshot for startup and reload log lines.
type Stats struct {
	MCPServers int
	Roles      int
	Users      int
}

// Stats counts the entities in this snapshot. Nil registries count zero.
func (c *Config) Stats() Stats {
	s := Stats{}
	if c.MCPServerRegistry != nil {
		s.MCPServers = c.MCPServerRegistry.Len()
	}
	if c.UserRegistry != nil {
		s.Roles = c.UserRegistry.RoleCount()
		s.Users = c.UserRegistry.UserCount()
	}
	return s
}

// ConfigDir reports the directory this snapshot was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetMCPServer looks up one server config, delegating to the registry.
func (c *Config) GetMCPServer(serverID string) (*MCPServerConfig, error) {
	return c.MCPServerRegistry.Get(serverID)
}

// GetRole looks up one role config, delegating to the registry.
func (c *Config) GetRole(name string) (*RoleConfig, error) {
	return c.UserRegistry.GetRole(name)
}

// ResolveUser maps a user ID to its effective role, ceiling, and overrides.
func (c *Config) ResolveUser(userID string) *ResolvedUser {
	return c.UserRegistry.Resolve(userID)
}

// AllMCPServerIDs returns all configured server IDs, sorted.
func (c *Config) AllMCPServerIDs() []string {
	return c.MCPServerRegistry.ServerIDs()
}

// EnabledMCPServerIDs returns the enabled server IDs, sorted.
func (c *Config) EnabledMCPServerIDs() []string {
	return c.MCPServerRegistry.EnabledServerIDs()
}
