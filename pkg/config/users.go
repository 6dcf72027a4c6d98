package config

import (
	"fmt"
	"sort"
	"sync"
)

const (
	// RateLimitUnlimited marks a role with no request ceiling.
	RateLimitUnlimited = -1

	// DefaultRateLimit is the hourly ceiling applied when a role does not set one.
	DefaultRateLimit = 30
)

// RoleConfig defines a role: its hourly request ceiling and the MCP servers
// it grants by default. A "*" entry in MCPServers grants every registered server.
type RoleConfig struct {
	Description string   `yaml:"description,omitempty"`
	RateLimit   *int     `yaml:"rate_limit,omitempty"`
	MCPServers  []string `yaml:"mcp_servers,omitempty"`
}

// Ceiling returns the effective hourly request ceiling.
// RateLimitUnlimited (-1) means no ceiling.
func (r *RoleConfig) Ceiling() int {
	if r.RateLimit == nil {
		return DefaultRateLimit
	}
	if *r.RateLimit < 0 {
		return RateLimitUnlimited
	}
	return *r.RateLimit
}

// UserConfig maps a user to a role, with optional per-MCP tool overrides.
type UserConfig struct {
	Role         string                    `yaml:"role" validate:"required"`
	DisplayName  string                    `yaml:"display_name,omitempty"`
	MCPOverrides map[string]OverrideConfig `yaml:"mcp_overrides,omitempty"`
}

// ResolvedUser is a user identity resolved against the role table.
// Unknown users resolve to the default role with no overrides.
type ResolvedUser struct {
	UserID      string
	Role        string
	DisplayName string
	RateLimit   int // RateLimitUnlimited means no ceiling
	MCPServers  []string
	Overrides   map[string]OverrideConfig
	Known       bool // false when the user id was not in users.yaml
}

// GrantsServer reports whether the user's role grants the given MCP server.
// A "*" entry in the role's server list grants everything.
func (u *ResolvedUser) GrantsServer(serverID string) bool {
	for _, id := range u.MCPServers {
		if id == "*" || id == serverID {
			return true
		}
	}
	return false
}

// Override returns the user's override for the given server, if any.
func (u *ResolvedUser) Override(serverID string) (OverrideConfig, bool) {
	o, ok := u.Overrides[serverID]
	return o, ok
}

// UserRegistry stores role and user configurations in memory with thread-safe access
type UserRegistry struct {
	roles       map[string]*RoleConfig
	users       map[string]*UserConfig
	defaultRole string
	mu          sync.RWMutex
}

// NewUserRegistry creates a new user registry
func NewUserRegistry(roles map[string]*RoleConfig, users map[string]*UserConfig, defaultRole string) *UserRegistry {
	return &UserRegistry{
		roles:       roles,
		users:       users,
		defaultRole: defaultRole,
	}
}

// GetRole retrieves a role configuration by name (thread-safe)
func (r *UserRegistry) GetRole(name string) (*RoleConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	role, exists := r.roles[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, name)
	}
	return role, nil
}

// GetUser retrieves a user configuration by ID (thread-safe).
// Returns ErrUserNotFound for unknown users; callers wanting fallback
// semantics should use Resolve instead.
func (r *UserRegistry) GetUser(userID string) (*UserConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, exists := r.users[userID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	return user, nil
}

// GetAllRoles returns all role configurations (thread-safe, returns copy)
func (r *UserRegistry) GetAllRoles() map[string]*RoleConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Return a copy to prevent external modification
	result := make(map[string]*RoleConfig, len(r.roles))
	for k, v := range r.roles {
		result[k] = v
	}
	return result
}

// GetAllUsers returns all user configurations (thread-safe, returns copy)
func (r *UserRegistry) GetAllUsers() map[string]*UserConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Return a copy to prevent external modification
	result := make(map[string]*UserConfig, len(r.users))
	for k, v := range r.users {
		result[k] = v
	}
	return result
}

// HasRole checks if a role exists in the registry (thread-safe)
func (r *UserRegistry) HasRole(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.roles[name]
	return exists
}

// DefaultRole returns the role assigned to unknown users (thread-safe)
func (r *UserRegistry) DefaultRole() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultRole
}

// RoleNames returns all role names in sorted order (thread-safe)
func (r *UserRegistry) RoleNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.roles))
	for name := range r.roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RoleCount returns the number of roles in the registry (thread-safe)
func (r *UserRegistry) RoleCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.roles)
}

// UserCount returns the number of users in the registry (thread-safe)
func (r *UserRegistry) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// Resolve maps a user ID to its effective role, ceiling, server grants, and
// overrides (thread-safe). Unknown users get the default role and no overrides.
// A dangling role reference (prevented by validation) resolves to a zero-access
// principal at the default ceiling rather than an error.
func (r *UserRegistry) Resolve(userID string) *ResolvedUser {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resolved := &ResolvedUser{
		UserID:    userID,
		Role:      r.defaultRole,
		RateLimit: DefaultRateLimit,
	}

	if user, exists := r.users[userID]; exists {
		resolved.Known = true
		resolved.Role = user.Role
		resolved.DisplayName = user.DisplayName
		if len(user.MCPOverrides) > 0 {
			overrides := make(map[string]OverrideConfig, len(user.MCPOverrides))
			for server, override := range user.MCPOverrides {
				overrides[server] = override
			}
			resolved.Overrides = overrides
		}
	}

	if role, exists := r.roles[resolved.Role]; exists {
		resolved.RateLimit = role.Ceiling()
		servers := make([]string, len(role.MCPServers))
		copy(servers, role.MCPServers)
		resolved.MCPServers = servers
	}

	return resolved
}
