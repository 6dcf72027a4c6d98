package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Shared types used across configuration structs

// TransportConfig defines MCP server transport configuration
type TransportConfig struct {
	Type TransportType `yaml:"type" validate:"required"`

	// For stdio transport
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"` // Environment overrides for stdio subprocess

	// For http/sse transport
	URL         string `yaml:"url,omitempty"`
	BearerToken string `yaml:"bearer_token,omitempty"`
	VerifySSL   *bool  `yaml:"verify_ssl,omitempty"`
	Timeout     int    `yaml:"timeout,omitempty"` // In seconds
}

// MaskingConfig scrubs secrets from an MCP server's tool results before they
// reach the model conversation or a chat reply. Pattern groups and patterns
// reference the built-in pattern table; custom patterns are compiled per
// server at startup.
type MaskingConfig struct {
	Enabled        bool             `yaml:"enabled"`
	PatternGroups  []string         `yaml:"pattern_groups,omitempty"`
	Patterns       []string         `yaml:"patterns,omitempty"`
	CustomPatterns []MaskingPattern `yaml:"custom_patterns,omitempty"`
}

// MaskingPattern defines a regex-based masking pattern
type MaskingPattern struct {
	Pattern     string `yaml:"pattern" validate:"required"`
	Replacement string `yaml:"replacement" validate:"required"`
	Description string `yaml:"description,omitempty"`
}

// ToolPolicy filters which of an MCP server's tools are exposed at all.
// Patterns in Tools use path.Match glob syntax; a bare "*" matches everything.
type ToolPolicy struct {
	Mode  ToolPolicyMode `yaml:"mode" validate:"required"`
	Tools []string       `yaml:"tools,omitempty"`
}

// toolPolicyAllowedKeys are the YAML keys accepted in a ToolPolicy mapping.
// Kept in sync with the struct tags on ToolPolicy.
var toolPolicyAllowedKeys = map[string]bool{
	"mode":  true,
	"tools": true,
}

// UnmarshalYAML implements custom unmarshaling to support both:
//   - Short-form:  tool_policy: allow_all
//   - Long-form:   tool_policy: {mode: allow_only, tools: ["get_*"]}
func (p *ToolPolicy) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Tag != "!!str" {
			return fmt.Errorf("tool_policy: expected string or mapping, got %s", value.Tag)
		}
		*p = ToolPolicy{Mode: ToolPolicyMode(value.Value)}
		return nil
	case yaml.MappingNode:
		if err := checkUnknownKeys(value, toolPolicyAllowedKeys, "tool_policy"); err != nil {
			return err
		}
		type plain ToolPolicy
		var decoded plain
		if err := value.Decode(&decoded); err != nil {
			return fmt.Errorf("tool_policy: %w", err)
		}
		*p = ToolPolicy(decoded)
		return nil
	default:
		return fmt.Errorf("tool_policy: expected string or mapping, got %v", value.Tag)
	}
}

// OverrideConfig replaces an MCP server's tool policy for a single user.
// Mode "all" grants everything, "custom" grants the listed patterns,
// "inherit" defers to the server policy.
type OverrideConfig struct {
	Mode  OverrideMode `yaml:"mode" validate:"required"`
	Tools []string     `yaml:"tools,omitempty"`
}

// overrideAllowedKeys are the YAML keys accepted in an OverrideConfig mapping.
var overrideAllowedKeys = map[string]bool{
	"mode":  true,
	"tools": true,
}

// UnmarshalYAML implements custom unmarshaling to support both:
//   - Short-form:  prod-postgres: all
//   - Long-form:   prod-postgres: {mode: custom, tools: ["get_*", "list_*"]}
func (o *OverrideConfig) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Tag != "!!str" {
			return fmt.Errorf("mcp_overrides: expected string or mapping, got %s", value.Tag)
		}
		*o = OverrideConfig{Mode: OverrideMode(value.Value)}
		return nil
	case yaml.MappingNode:
		if err := checkUnknownKeys(value, overrideAllowedKeys, "mcp_overrides"); err != nil {
			return err
		}
		type plain OverrideConfig
		var decoded plain
		if err := value.Decode(&decoded); err != nil {
			return fmt.Errorf("mcp_overrides: %w", err)
		}
		*o = OverrideConfig(decoded)
		return nil
	default:
		return fmt.Errorf("mcp_overrides: expected string or mapping, got %v", value.Tag)
	}
}

// checkUnknownKeys validates that a MappingNode contains only keys in the
// allowed set. MappingNode.Content alternates key, value, key, value, ...
func checkUnknownKeys(node *yaml.Node, allowed map[string]bool, context string) error {
	for j := 0; j < len(node.Content)-1; j += 2 {
		key := node.Content[j].Value
		if !allowed[key] {
			return fmt.Errorf("%s: unknown field %q", context, key)
		}
	}
	return nil
}

// BoolPtr returns a pointer to b. Convenience for *bool struct fields.
func BoolPtr(b bool) *bool { return &b }

// IntPtr returns a pointer to n. Convenience for *int struct fields.
func IntPtr(n int) *int { return &n }
