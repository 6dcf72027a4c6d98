package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"regexp"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	// Validate in order: MCP servers → roles → users → LLM → defaults
	// This ensures referenced components are validated before referrers

	if err := v.validateMCPServers(); err != nil {
		return fmt.Errorf("MCP server validation failed: %w", err)
	}

	if err := v.validateRoles(); err != nil {
		return fmt.Errorf("role validation failed: %w", err)
	}

	if err := v.validateUsers(); err != nil {
		return fmt.Errorf("user validation failed: %w", err)
	}

	if err := v.validateLLM(); err != nil {
		return fmt.Errorf("LLM validation failed: %w", err)
	}

	if err := v.validateDefaults(); err != nil {
		return fmt.Errorf("defaults validation failed: %w", err)
	}

	return nil
}

func (v *ConfigValidator) validateMCPServers() error {
	for serverID, server := range v.cfg.MCPServerRegistry.GetAll() {
		// Validate transport type
		if !server.Transport.Type.IsValid() {
			return NewValidationError("mcp_server", serverID, "transport.type", fmt.Errorf("invalid transport type: %s", server.Transport.Type))
		}

		// Validate transport-specific fields
		switch server.Transport.Type {
		case TransportTypeStdio:
			if server.Transport.Command == "" {
				return NewValidationError("mcp_server", serverID, "transport.command", fmt.Errorf("command required for stdio transport"))
			}

		case TransportTypeHTTP, TransportTypeSSE:
			if server.Transport.URL == "" {
				return NewValidationError("mcp_server", serverID, "transport.url", fmt.Errorf("url required for %s transport", server.Transport.Type))
			}
		}

		// Validate tool policy
		if server.ToolPolicy != nil {
			policy := server.ToolPolicy
			if !policy.Mode.IsValid() {
				return NewValidationError("mcp_server", serverID, "tool_policy.mode", fmt.Errorf("invalid mode: %s", policy.Mode))
			}
			if policy.Mode != ToolPolicyAllowAll && len(policy.Tools) == 0 {
				return NewValidationError("mcp_server", serverID, "tool_policy.tools", fmt.Errorf("at least one pattern required for mode %s", policy.Mode))
			}
			if err := validatePatterns(policy.Tools); err != nil {
				return NewValidationError("mcp_server", serverID, "tool_policy.tools", err)
			}
		}

		// Validate data masking references and custom regexes
		if err := validateMasking(serverID, server.DataMasking); err != nil {
			return err
		}
	}

	return nil
}

// validateMasking checks that referenced pattern groups and pattern names
// exist in the built-in table and that custom patterns compile. The masking
// service skips unknown names at runtime, so they must be rejected here.
func validateMasking(serverID string, masking *MaskingConfig) error {
	if masking == nil || !masking.Enabled {
		return nil
	}

	builtin := GetBuiltinConfig()

	for _, group := range masking.PatternGroups {
		if _, ok := builtin.PatternGroups[group]; !ok {
			return NewValidationError("mcp_server", serverID, "data_masking.pattern_groups", fmt.Errorf("unknown pattern group '%s'", group))
		}
	}

	for _, name := range masking.Patterns {
		if _, ok := builtin.MaskingPatterns[name]; !ok {
			return NewValidationError("mcp_server", serverID, "data_masking.patterns", fmt.Errorf("unknown pattern '%s'", name))
		}
	}

	for i, custom := range masking.CustomPatterns {
		field := fmt.Sprintf("data_masking.custom_patterns[%d]", i)
		if custom.Pattern == "" {
			return NewValidationError("mcp_server", serverID, field, fmt.Errorf("pattern required"))
		}
		if _, err := regexp.Compile(custom.Pattern); err != nil {
			return NewValidationError("mcp_server", serverID, field, fmt.Errorf("invalid regex: %w", err))
		}
		if custom.Replacement == "" {
			return NewValidationError("mcp_server", serverID, field, fmt.Errorf("replacement required"))
		}
	}

	return nil
}

func (v *ConfigValidator) validateRoles() error {
	reg := v.cfg.UserRegistry

	for name, role := range reg.GetAllRoles() {
		// Validate rate limit: -1 (unlimited) or positive
		if role.RateLimit != nil && *role.RateLimit != RateLimitUnlimited && *role.RateLimit < 1 {
			return NewValidationError("role", name, "rate_limit", fmt.Errorf("must be positive or -1 for unlimited"))
		}

		// Validate MCP server references ("*" grants everything)
		for _, serverID := range role.MCPServers {
			if serverID == "*" {
				continue
			}
			if !v.cfg.MCPServerRegistry.Has(serverID) {
				return NewValidationError("role", name, "mcp_servers", fmt.Errorf("MCP server '%s' not found", serverID))
			}
		}
	}

	// Validate the default role resolves
	if !reg.HasRole(reg.DefaultRole()) {
		return NewValidationError("role", reg.DefaultRole(), "default_role", fmt.Errorf("default role not defined"))
	}

	return nil
}

func (v *ConfigValidator) validateUsers() error {
	reg := v.cfg.UserRegistry

	for userID, user := range reg.GetAllUsers() {
		// Validate role reference
		if user.Role == "" {
			return NewValidationError("user", userID, "role", fmt.Errorf("role required"))
		}
		if !reg.HasRole(user.Role) {
			return NewValidationError("user", userID, "role", fmt.Errorf("role '%s' not found", user.Role))
		}

		// Validate per-MCP overrides
		for serverID, override := range user.MCPOverrides {
			if !v.cfg.MCPServerRegistry.Has(serverID) {
				return NewValidationError("user", userID, "mcp_overrides", fmt.Errorf("MCP server '%s' not found", serverID))
			}
			if !override.Mode.IsValid() {
				return NewValidationError("user", userID, fmt.Sprintf("mcp_overrides.%s.mode", serverID), fmt.Errorf("invalid mode: %s", override.Mode))
			}
			if override.Mode == OverrideModeCustom && len(override.Tools) == 0 {
				return NewValidationError("user", userID, fmt.Sprintf("mcp_overrides.%s.tools", serverID), fmt.Errorf("at least one pattern required for custom mode"))
			}
			if err := validatePatterns(override.Tools); err != nil {
				return NewValidationError("user", userID, fmt.Sprintf("mcp_overrides.%s.tools", serverID), err)
			}
		}
	}

	return nil
}

func (v *ConfigValidator) validateLLM() error {
	llm := v.cfg.LLM

	if llm.Model == "" {
		return NewValidationError("llm", llm.Model, "model", fmt.Errorf("model required"))
	}

	if llm.MaxTokens < 1 {
		return NewValidationError("llm", llm.Model, "max_tokens", fmt.Errorf("must be at least 1"))
	}

	// Validate API key environment variable is set (if specified)
	if llm.APIKeyEnv != "" {
		if value := os.Getenv(llm.APIKeyEnv); value == "" {
			return NewValidationError("llm", llm.Model, "api_key_env", fmt.Errorf("environment variable %s is not set", llm.APIKeyEnv))
		}
	}

	if p := llm.Pricing; p != nil {
		if p.InputPerMTok < 0 || p.OutputPerMTok < 0 || p.CachedPerMTok < 0 {
			return NewValidationError("llm", llm.Model, "pricing", fmt.Errorf("prices must be non-negative"))
		}
	}

	return nil
}

func (v *ConfigValidator) validateDefaults() error {
	d := v.cfg.Defaults

	if d.MaxIterations < 1 {
		return NewValidationError("defaults", "defaults", "max_iterations", fmt.Errorf("must be at least 1"))
	}
	if d.ThreadDepth < 1 {
		return NewValidationError("defaults", "defaults", "thread_depth", fmt.Errorf("must be at least 1"))
	}
	for field, ttl := range map[string]int64{
		"tool_cache_ttl":       int64(d.ToolCacheTTL),
		"permission_cache_ttl": int64(d.PermissionCacheTTL),
		"thread_ttl":           int64(d.ThreadTTL),
		"rate_window":          int64(d.RateWindow),
		"request_timeout":      int64(d.RequestTimeout),
	} {
		if ttl <= 0 {
			return NewValidationError("defaults", "defaults", field, fmt.Errorf("must be positive"))
		}
	}

	return nil
}

// validatePatterns checks that every glob parses under path.Match syntax.
func validatePatterns(patterns []string) error {
	for _, pattern := range patterns {
		if _, err := path.Match(pattern, "probe"); errors.Is(err, path.ErrBadPattern) {
			return fmt.Errorf("malformed pattern %q", pattern)
		}
	}
	return nil
}
