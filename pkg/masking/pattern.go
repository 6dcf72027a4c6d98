package masking

import (
	"fmt"
	"log/slog"
	"regexp"

	"github.com/codeready-toolchain/bridgy/pkg/config"
)

// CompiledPattern is one ready-to-apply masking rule.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// compileBuiltinPatterns registers every built-in pattern from the builtin
// config table.
func (s *Service) compileBuiltinPatterns() {
	for name, pattern := range config.GetBuiltinConfig().MaskingPatterns {
		s.register(name, "", pattern)
	}
}

// compileCustomPatterns registers the custom patterns of every server with
// masking enabled. Custom patterns are keyed "custom:{serverID}:{index}" so
// two servers with identical patterns never collide.
func (s *Service) compileCustomPatterns() {
	for serverID, serverCfg := range s.registry.GetAll() {
		if serverCfg.DataMasking == nil || !serverCfg.DataMasking.Enabled {
			continue
		}
		for i, pattern := range serverCfg.DataMasking.CustomPatterns {
			name := fmt.Sprintf("custom:%s:%d", serverID, i)
			if s.register(name, serverID, pattern) {
				s.serverCustomPatterns[serverID] = append(s.serverCustomPatterns[serverID], name)
			}
		}
	}
}

// register compiles and stores one pattern. A pattern that fails to compile
// is logged and skipped; masking keeps running with the rest.
func (s *Service) register(name, serverID string, pattern config.MaskingPattern) bool {
	regex, err := regexp.Compile(pattern.Pattern)
	if err != nil {
		slog.Error("Failed to compile masking pattern, skipping",
			"pattern", name, "server", serverID, "error", err)
		return false
	}
	s.patterns[name] = &CompiledPattern{
		Name:        name,
		Regex:       regex,
		Replacement: pattern.Replacement,
		Description: pattern.Description,
	}
	return true
}

// resolvePatterns expands a MaskingConfig into a deduplicated pattern list:
// pattern groups first, then individually named patterns, then the server's
// custom patterns. Unknown group or pattern names resolve to nothing (config
// validation rejects them at load time).
func (s *Service) resolvePatterns(cfg *config.MaskingConfig, serverID string) []*CompiledPattern {
	seen := make(map[string]bool)
	var resolved []*CompiledPattern

	add := func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		if cp, ok := s.patterns[name]; ok {
			resolved = append(resolved, cp)
		}
	}

	for _, groupName := range cfg.PatternGroups {
		for _, name := range s.patternGroups[groupName] {
			add(name)
		}
	}
	for _, name := range cfg.Patterns {
		add(name)
	}
	for _, name := range s.serverCustomPatterns[serverID] {
		add(name)
	}

	return resolved
}
