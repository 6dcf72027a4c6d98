package config

// TransportType defines MCP server transport types
type TransportType string

const (
	// TransportTypeStdio uses subprocess communication via stdin/stdout
	TransportTypeStdio TransportType = "stdio"
	// TransportTypeHTTP uses HTTP/HTTPS JSON-RPC
	TransportTypeHTTP TransportType = "http"
	// TransportTypeSSE uses Server-Sent Events
	TransportTypeSSE TransportType = "sse"
)

// IsValid checks if the transport type is valid
func (t TransportType) IsValid() bool {
	return t == TransportTypeStdio || t == TransportTypeHTTP || t == TransportTypeSSE
}

// ToolPolicyMode defines how an MCP server's tool policy filters its catalog
type ToolPolicyMode string

const (
	// ToolPolicyAllowAll exposes every tool the server advertises
	ToolPolicyAllowAll ToolPolicyMode = "allow_all"
	// ToolPolicyAllowOnly exposes only tools matching the policy patterns
	ToolPolicyAllowOnly ToolPolicyMode = "allow_only"
	// ToolPolicyAllowAllExcept exposes every tool except those matching the patterns
	ToolPolicyAllowAllExcept ToolPolicyMode = "allow_all_except"
)

// IsValid checks if the tool policy mode is valid
func (m ToolPolicyMode) IsValid() bool {
	return m == ToolPolicyAllowAll || m == ToolPolicyAllowOnly || m == ToolPolicyAllowAllExcept
}

// OverrideMode defines how a per-user override replaces the server's tool policy
type OverrideMode string

const (
	// OverrideModeAll grants every tool on the server, ignoring the server policy
	OverrideModeAll OverrideMode = "all"
	// OverrideModeCustom grants only tools matching the override patterns
	OverrideModeCustom OverrideMode = "custom"
	// OverrideModeInherit defers to the server's tool policy (same as no override)
	OverrideModeInherit OverrideMode = "inherit"
)

// IsValid checks if the override mode is valid
func (m OverrideMode) IsValid() bool {
	return m == OverrideModeAll || m == OverrideModeCustom || m == OverrideModeInherit
}
