package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// BridgyYAMLConfig represents the complete bridgy.yaml file structure
type BridgyYAMLConfig struct {
	MCPServers map[string]MCPServerConfig `yaml:"mcp_servers"`
	Defaults   *DefaultsYAML              `yaml:"defaults"`
	LLM        *LLMConfig                 `yaml:"llm"`
}

// UsersYAMLConfig represents the complete users.yaml file structure
type UsersYAMLConfig struct {
	Roles       map[string]RoleConfig `yaml:"roles"`
	DefaultRole string                `yaml:"default_role"`
	Users       map[string]UserConfig `yaml:"users"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load YAML files from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge built-in + user-defined configurations
//  5. Build in-memory registries
//  6. Resolve defaults and LLM settings (env price overrides applied here)
//  7. Validate all configuration
//  8. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	// 1. Load configuration files
	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// 2. Validate all configuration
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"mcp_servers", stats.MCPServers,
		"roles", stats.Roles,
		"users", stats.Users,
		"default_role", cfg.UserRegistry.DefaultRole())

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{
		configDir: configDir,
	}

	// 1. Load bridgy.yaml (contains mcp_servers, defaults, llm)
	bridgyConfig, err := loader.loadBridgyYAML()
	if err != nil {
		return nil, NewLoadError("bridgy.yaml", err)
	}

	// 2. Load users.yaml (contains roles, default_role, users)
	usersConfig, err := loader.loadUsersYAML()
	if err != nil {
		return nil, NewLoadError("users.yaml", err)
	}

	// 3. Get built-in configuration
	builtin := GetBuiltinConfig()

	// 4. Merge built-in + user-defined components (user overrides built-in)
	mcpServers := mergeMCPServers(bridgyConfig.MCPServers)
	roles, err := mergeRoles(builtin.Roles, usersConfig.Roles)
	if err != nil {
		return nil, err
	}
	users := mergeUsers(usersConfig.Users)

	// 5. Resolve the default role for unknown users (YAML overrides built-in)
	defaultRole := usersConfig.DefaultRole
	if defaultRole == "" {
		defaultRole = builtin.DefaultRole
	}

	// 6. Build registries
	mcpServerRegistry := NewMCPServerRegistry(mcpServers)
	userRegistry := NewUserRegistry(roles, users, defaultRole)

	// 7. Resolve defaults and LLM settings
	defaults := resolveDefaults(bridgyConfig.Defaults)
	llm, err := resolveLLM(bridgyConfig.LLM)
	if err != nil {
		return nil, err
	}

	return &Config{
		configDir:         configDir,
		Defaults:          defaults,
		LLM:               llm,
		MCPServerRegistry: mcpServerRegistry,
		UserRegistry:      userRegistry,
	}, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax
	// Note: ExpandEnv passes through original data on parse/execution errors,
	// allowing YAML parser to handle the content (or fail with clearer error message)
	data = ExpandEnv(data)

	// Parse YAML
	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadBridgyYAML() (*BridgyYAMLConfig, error) {
	var config BridgyYAMLConfig

	// Initialize map to avoid nil map
	config.MCPServers = make(map[string]MCPServerConfig)

	if err := l.loadYAML("bridgy.yaml", &config); err != nil {
		return nil, err
	}

	return &config, nil
}

func (l *configLoader) loadUsersYAML() (*UsersYAMLConfig, error) {
	var config UsersYAMLConfig

	// Initialize maps to avoid nil maps
	config.Roles = make(map[string]RoleConfig)
	config.Users = make(map[string]UserConfig)

	if err := l.loadYAML("users.yaml", &config); err != nil {
		return nil, err
	}

	return &config, nil
}

// resolveDefaults resolves system defaults from YAML, applying built-in values
// for anything unset and warning (not failing) on malformed durations.
func resolveDefaults(y *DefaultsYAML) *Defaults {
	resolved := GetBuiltinConfig().Defaults

	if y == nil {
		return &resolved
	}

	if y.MaxIterations != nil && *y.MaxIterations > 0 {
		resolved.MaxIterations = *y.MaxIterations
	}
	if y.ThreadDepth != nil && *y.ThreadDepth > 0 {
		resolved.ThreadDepth = *y.ThreadDepth
	}
	if y.AuditRetentionDays != nil && *y.AuditRetentionDays > 0 {
		resolved.AuditRetentionDays = *y.AuditRetentionDays
	}
	resolved.ToolCacheTTL = resolveDuration("tool_cache_ttl", y.ToolCacheTTL, resolved.ToolCacheTTL)
	resolved.PermissionCacheTTL = resolveDuration("permission_cache_ttl", y.PermissionCacheTTL, resolved.PermissionCacheTTL)
	resolved.ThreadTTL = resolveDuration("thread_ttl", y.ThreadTTL, resolved.ThreadTTL)
	resolved.RateWindow = resolveDuration("rate_window", y.RateWindow, resolved.RateWindow)
	resolved.RequestTimeout = resolveDuration("request_timeout", y.RequestTimeout, resolved.RequestTimeout)
	resolved.CleanupInterval = resolveDuration("cleanup_interval", y.CleanupInterval, resolved.CleanupInterval)

	return &resolved
}

func resolveDuration(field, value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		slog.Warn("Invalid duration in defaults config, using default",
			"field", field,
			"value", value,
			"default", fallback)
		return fallback
	}
	return d
}

// resolveLLM merges user LLM config over built-in defaults and applies
// environment price overrides (LLM_PRICE_INPUT/OUTPUT/CACHED).
func resolveLLM(user *LLMConfig) (*LLMConfig, error) {
	resolved := GetBuiltinConfig().LLM
	// Deep copy the pricing so the builtin singleton is never mutated
	pricing := *resolved.Pricing
	resolved.Pricing = &pricing

	if user != nil {
		// Merge user-provided config into defaults (non-zero values override)
		if err := mergo.Merge(&resolved, user, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge llm config: %w", err)
		}
	}

	resolved.Pricing.InputPerMTok = resolvePriceEnv("LLM_PRICE_INPUT", resolved.Pricing.InputPerMTok)
	resolved.Pricing.OutputPerMTok = resolvePriceEnv("LLM_PRICE_OUTPUT", resolved.Pricing.OutputPerMTok)
	resolved.Pricing.CachedPerMTok = resolvePriceEnv("LLM_PRICE_CACHED", resolved.Pricing.CachedPerMTok)

	return &resolved, nil
}

func resolvePriceEnv(envVar string, fallback float64) float64 {
	value := os.Getenv(envVar)
	if value == "" {
		return fallback
	}
	price, err := strconv.ParseFloat(value, 64)
	if err != nil || price < 0 {
		slog.Warn("Invalid price override, using configured value",
			"env_var", envVar,
			"value", value,
			"default", fallback)
		return fallback
	}
	return price
}
