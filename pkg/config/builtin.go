package config

import (
	"sync"
	"time"
)

// BuiltinConfig holds all built-in configuration data.
// This provides default roles, rate ceilings, system defaults, LLM settings,
// and the masking pattern table.
type BuiltinConfig struct {
	Roles           map[string]RoleConfig
	DefaultRole     string
	Defaults        Defaults
	LLM             LLMConfig
	MaskingPatterns map[string]MaskingPattern
	PatternGroups   map[string][]string
}

var (
	builtinConfig     *BuiltinConfig
	builtinConfigOnce sync.Once
)

// GetBuiltinConfig returns the singleton built-in configuration (thread-safe, lazy-initialized)
func GetBuiltinConfig() *BuiltinConfig {
	builtinConfigOnce.Do(initBuiltinConfig)
	return builtinConfig
}

func initBuiltinConfig() {
	builtinConfig = &BuiltinConfig{
		Roles:           initBuiltinRoles(),
		DefaultRole:     "read_only",
		Defaults:        initBuiltinDefaults(),
		LLM:             initBuiltinLLM(),
		MaskingPatterns: initBuiltinMaskingPatterns(),
		PatternGroups:   initBuiltinPatternGroups(),
	}
}

// initBuiltinRoles returns the role table with default hourly ceilings.
// Deployments list MCP server grants per role in users.yaml; only the admin
// roles grant everything out of the box. User-defined roles with the same
// name are field-merged on top of these (so overriding mcp_servers keeps
// the built-in ceiling).
func initBuiltinRoles() map[string]RoleConfig {
	return map[string]RoleConfig{
		"super_admin": {
			Description: "Full access to every MCP server and tool, no rate ceiling",
			RateLimit:   IntPtr(RateLimitUnlimited),
			MCPServers:  []string{"*"},
		},
		"admin": {
			Description: "Full access to every MCP server and tool, no rate ceiling",
			RateLimit:   IntPtr(RateLimitUnlimited),
			MCPServers:  []string{"*"},
		},
		"dba": {
			Description: "Database operators",
			RateLimit:   IntPtr(200),
		},
		"senior_dev": {
			Description: "Senior engineers",
			RateLimit:   IntPtr(150),
		},
		"power_user": {
			Description: "Trusted heavy users",
			RateLimit:   IntPtr(100),
		},
		"junior_dba": {
			Description: "Database operators in training",
			RateLimit:   IntPtr(50),
		},
		"qa_tester": {
			Description: "QA and test accounts",
			RateLimit:   IntPtr(50),
		},
		"read_only": {
			Description: "Read-only access, also the default for unknown users",
			RateLimit:   IntPtr(30),
		},
		"contractor": {
			Description: "External contractors",
			RateLimit:   IntPtr(20),
		},
	}
}

func initBuiltinDefaults() Defaults {
	return Defaults{
		MaxIterations:      10,
		ThreadDepth:        3,
		ToolCacheTTL:       5 * time.Minute,
		PermissionCacheTTL: 5 * time.Minute,
		ThreadTTL:          24 * time.Hour,
		RateWindow:         time.Hour,
		RequestTimeout:     2 * time.Minute,
		AuditRetentionDays: 90,
		CleanupInterval:    12 * time.Hour,
	}
}

// initBuiltinMaskingPatterns returns the regex-based masking pattern table.
// Tool results flowing back from MCP servers routinely quote credentials
// (DSNs, env dumps, API responses); these patterns scrub the common shapes.
func initBuiltinMaskingPatterns() map[string]MaskingPattern {
	return map[string]MaskingPattern{
		"api_key": {
			Pattern:     `(?i)(?:api[_-]?key|apikey)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-]{20,})["']?`,
			Replacement: `"api_key": "__MASKED_API_KEY__"`,
			Description: "API keys",
		},
		"password": {
			Pattern:     `(?i)(?:password|pwd|pass)["']?\s*[:=]\s*["']?([^"'\s\n]{6,})["']?`,
			Replacement: `"password": "__MASKED_PASSWORD__"`,
			Description: "Passwords",
		},
		"token": {
			Pattern:     `(?i)(?:token|bearer|jwt)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{20,})["']?`,
			Replacement: `"token": "__MASKED_TOKEN__"`,
			Description: "Access tokens",
		},
		"connection_string": {
			Pattern:     `(?i)\b([a-z][a-z0-9+.-]*://[^:/\s@]+):([^@\s]+)@`,
			Replacement: `${1}:__MASKED_PASSWORD__@`,
			Description: "Credentials embedded in connection URIs",
		},
		"certificate": {
			Pattern:     `(?s)-----BEGIN [A-Z ]+-----.*?-----END [A-Z ]+-----`,
			Replacement: `__MASKED_CERTIFICATE__`,
			Description: "SSL/TLS certificates and PEM keys",
		},
		"email": {
			Pattern:     `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9]+(?:[.-][A-Za-z0-9]+)*\.[A-Za-z]{2,63}\b`,
			Replacement: `__MASKED_EMAIL__`,
			Description: "Email addresses",
		},
		"ssh_key": {
			Pattern:     `ssh-(?:rsa|dss|ed25519|ecdsa)\s+[A-Za-z0-9+/=]+`,
			Replacement: `__MASKED_SSH_KEY__`,
			Description: "SSH public keys",
		},
		"private_key": {
			Pattern:     `(?i)(?:private[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{20,})["']?`,
			Replacement: `"private_key": "__MASKED_PRIVATE_KEY__"`,
			Description: "Private keys",
		},
		"secret_key": {
			Pattern:     `(?i)(?:secret[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{20,})["']?`,
			Replacement: `"secret_key": "__MASKED_SECRET_KEY__"`,
			Description: "Secret keys",
		},
		"aws_access_key": {
			Pattern:     `(?i)(?:aws[_-]?access[_-]?key[_-]?id)["']?\s*[:=]\s*["']?(AKIA[A-Z0-9]{16})["']?`,
			Replacement: `"aws_access_key_id": "__MASKED_AWS_KEY__"`,
			Description: "AWS access keys",
		},
		"aws_secret_key": {
			Pattern:     `(?i)(?:aws[_-]?secret[_-]?access[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9/+=]{40})["']?`,
			Replacement: `"aws_secret_access_key": "__MASKED_AWS_SECRET__"`,
			Description: "AWS secret keys",
		},
		"github_token": {
			Pattern:     `gh[ps]_[A-Za-z0-9_]{36,255}`,
			Replacement: `__MASKED_GITHUB_TOKEN__`,
			Description: "GitHub tokens",
		},
		"slack_token": {
			Pattern:     `(?i)xox[baprs]-[A-Za-z0-9-]{10,72}`,
			Replacement: `__MASKED_SLACK_TOKEN__`,
			Description: "Slack tokens",
		},
	}
}

// initBuiltinPatternGroups returns predefined bundles of masking patterns so
// server configs can say pattern_groups: [database] instead of listing
// patterns one by one.
func initBuiltinPatternGroups() map[string][]string {
	return map[string][]string{
		"basic":    {"api_key", "password"},
		"secrets":  {"api_key", "password", "token", "private_key", "secret_key"},
		"database": {"password", "connection_string", "api_key"},
		"cloud":    {"aws_access_key", "aws_secret_key", "api_key", "token"},
		"security": {"api_key", "password", "token", "certificate", "email", "ssh_key"},
		"all": {"api_key", "password", "token", "connection_string", "certificate",
			"email", "ssh_key", "private_key", "secret_key",
			"aws_access_key", "aws_secret_key", "github_token", "slack_token"},
	}
}

func initBuiltinLLM() LLMConfig {
	return LLMConfig{
		Model:     "claude-sonnet-4-20250514",
		MaxTokens: 4096,
		APIKeyEnv: "ANTHROPIC_API_KEY",
		Pricing: &Pricing{
			InputPerMTok:  0.80,
			OutputPerMTok: 4.00,
			CachedPerMTok: 0.08,
		},
	}
}
