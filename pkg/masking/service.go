// Package masking scrubs secrets from MCP tool results.
package masking

import (
	"log/slog"

	"github.com/codeready-toolchain/bridgy/pkg/config"
)

// Service applies per-server masking to tool result content before it enters
// the model conversation or a chat reply. Created once at startup; thread-safe
// and stateless aside from compiled patterns.
type Service struct {
	registry             *config.MCPServerRegistry
	patterns             map[string]*CompiledPattern // built-in + custom compiled patterns
	patternGroups        map[string][]string         // group name → pattern names
	serverCustomPatterns map[string][]string         // serverID → custom pattern keys
}

// NewService compiles all built-in and per-server custom patterns eagerly.
// Invalid patterns are logged and skipped.
func NewService(registry *config.MCPServerRegistry) *Service {
	s := &Service{
		registry:             registry,
		patterns:             make(map[string]*CompiledPattern),
		patternGroups:        config.GetBuiltinConfig().PatternGroups,
		serverCustomPatterns: make(map[string][]string),
	}

	s.compileBuiltinPatterns()
	s.compileCustomPatterns()

	slog.Info("Masking service initialized",
		"builtin_patterns", len(config.GetBuiltinConfig().MaskingPatterns),
		"compiled_patterns", len(s.patterns))

	return s
}

// MaskToolResult applies the server's masking configuration to tool result
// content. Servers without a data_masking block pass content through
// unchanged.
func (s *Service) MaskToolResult(content string, serverID string) string {
	if content == "" {
		return content
	}

	serverCfg, err := s.registry.Get(serverID)
	if err != nil || serverCfg.DataMasking == nil || !serverCfg.DataMasking.Enabled {
		return content
	}

	patterns := s.resolvePatterns(serverCfg.DataMasking, serverID)
	for _, pattern := range patterns {
		content = pattern.Regex.ReplaceAllString(content, pattern.Replacement)
	}
	return content
}
