package config

import (
	"fmt"

	"dario.cat/mergo"
)

// mergeMCPServers returns the user-defined MCP server map as registry values.
// There are no built-in servers; every deployment brings its own.
func mergeMCPServers(userServers map[string]MCPServerConfig) map[string]*MCPServerConfig {
	result := make(map[string]*MCPServerConfig, len(userServers))
	for id, server := range userServers {
		serverCopy := server
		result[id] = &serverCopy
	}
	return result
}

// mergeRoles merges built-in and user-defined role configurations.
// User-defined roles are field-merged on top of the built-in role with the
// same name, so a role that only lists mcp_servers keeps its built-in ceiling.
// Roles with no built-in counterpart are taken as-is.
func mergeRoles(builtinRoles map[string]RoleConfig, userRoles map[string]RoleConfig) (map[string]*RoleConfig, error) {
	result := make(map[string]*RoleConfig, len(builtinRoles)+len(userRoles))

	// First, add built-in roles with defensive copies
	for name, role := range builtinRoles {
		roleCopy := role
		serversCopy := make([]string, len(role.MCPServers))
		copy(serversCopy, role.MCPServers)
		roleCopy.MCPServers = serversCopy
		result[name] = &roleCopy
	}

	// Then, merge user-defined roles on top (non-zero fields override)
	for name, userRole := range userRoles {
		base, exists := result[name]
		if !exists {
			roleCopy := userRole
			result[name] = &roleCopy
			continue
		}
		if err := mergo.Merge(base, userRole, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge role %q: %w", name, err)
		}
	}

	return result, nil
}

// mergeUsers returns the user-defined user map as registry values.
func mergeUsers(userUsers map[string]UserConfig) map[string]*UserConfig {
	result := make(map[string]*UserConfig, len(userUsers))
	for id, user := range userUsers {
		userCopy := user
		result[id] = &userCopy
	}
	return result
}
