package config

import "time"

// DefaultsYAML is the raw defaults section of bridgy.yaml. Durations are
// strings ("5m", "24h") parsed during resolution so a typo degrades to the
// built-in value with a warning instead of failing the whole load.
type DefaultsYAML struct {
	MaxIterations      *int   `yaml:"max_iterations,omitempty" validate:"omitempty,min=1"`
	ThreadDepth        *int   `yaml:"thread_depth,omitempty" validate:"omitempty,min=1"`
	ToolCacheTTL       string `yaml:"tool_cache_ttl,omitempty"`
	PermissionCacheTTL string `yaml:"permission_cache_ttl,omitempty"`
	ThreadTTL          string `yaml:"thread_ttl,omitempty"`
	RateWindow         string `yaml:"rate_window,omitempty"`
	RequestTimeout     string `yaml:"request_timeout,omitempty"`
	AuditRetentionDays *int   `yaml:"audit_retention_days,omitempty" validate:"omitempty,min=1"`
	CleanupInterval    string `yaml:"cleanup_interval,omitempty"`
}

// Defaults contains resolved system-wide settings.
// These values are used when specific components don't specify their own.
type Defaults struct {
	// Max agentic loop iterations (forces conclusion when reached)
	MaxIterations int

	// Number of prior thread messages prepended to a follow-up request
	ThreadDepth int

	// Tool-schema cache freshness window
	ToolCacheTTL time.Duration

	// Permission view cache freshness window
	PermissionCacheTTL time.Duration

	// Idle conversation eviction age
	ThreadTTL time.Duration

	// Rate limiter sliding window
	RateWindow time.Duration

	// Overall deadline for a single chat request
	RequestTimeout time.Duration

	// Audit records older than this are purged by the retention sweep
	AuditRetentionDays int

	// How often the retention sweep runs
	CleanupInterval time.Duration
}
