package mcp

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// jsonLeadBytes are the bytes a JSON value can start with. Used to skip the
// JSON parse attempt for inputs that obviously are not JSON.
const jsonLeadBytes = `{["0123456789-tfn`

// ParseToolArguments turns a raw tool-argument payload into a parameter map.
// Models are asked for a JSON object but degraded outputs happen in practice:
// bare scalars, YAML fragments, loose "key: value" lines. Each gets a
// best-effort parse before the input is given up on and wrapped whole.
//
// Attempt order, first hit wins:
//
//	JSON object                  → the object itself
//	other valid JSON             → {"input": value}
//	YAML with nested structure   → the decoded map
//	key/value pairs (":" or "=") → coerced map
//	anything else                → {"input": raw string}
//
// Empty input yields an empty map so no-parameter tools work unchanged.
func ParseToolArguments(input string) (map[string]any, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return map[string]any{}, nil
	}

	if result, ok := parseJSON(input); ok {
		return result, nil
	}
	if result, ok := parseStructuredYAML(input); ok {
		return result, nil
	}
	if result, ok := parsePairs(input); ok {
		return result, nil
	}

	return map[string]any{"input": input}, nil
}

func parseJSON(input string) (map[string]any, bool) {
	if strings.IndexByte(jsonLeadBytes, input[0]) < 0 {
		return nil, false
	}

	var raw any
	if err := json.Unmarshal([]byte(input), &raw); err != nil {
		return nil, false
	}

	if m, ok := raw.(map[string]any); ok {
		return m, true
	}
	// Arrays, strings, numbers, booleans, null: wrap under a single key.
	return map[string]any{"input": raw}, true
}

// parseStructuredYAML accepts YAML only when the decoded map carries nested
// structure (a list or a sub-map). Flat "key: value" text is left for the
// pair parser, otherwise arbitrary prose with a colon in it would decode as
// one giant key.
func parseStructuredYAML(input string) (map[string]any, bool) {
	var result map[string]any
	if err := yaml.Unmarshal([]byte(input), &result); err != nil {
		return nil, false
	}
	if len(result) == 0 {
		return nil, false
	}

	for _, v := range result {
		switch v.(type) {
		case []any, map[string]any:
			return result, true
		}
	}
	return nil, false
}

// parsePairs handles "key: value" / "key=value" fragments separated by commas
// or newlines. All fragments must parse or the whole input is rejected, which
// sends it to the raw-string fallback. Values containing commas get mis-split
// here and likewise fall through; that loses structure but never data.
func parsePairs(input string) (map[string]any, bool) {
	fragments := strings.Split(strings.ReplaceAll(input, "\n", ","), ",")

	result := make(map[string]any)
	for _, fragment := range fragments {
		fragment = strings.TrimSpace(fragment)
		if fragment == "" {
			continue
		}
		key, value, ok := splitPair(fragment)
		if !ok {
			return nil, false
		}
		result[key] = coerceScalar(value)
	}

	if len(result) == 0 {
		return nil, false
	}
	return result, true
}

// splitPair splits one fragment on ":" or "=". The key must be a bare
// identifier; embedded spaces mean this is prose, not a parameter.
func splitPair(fragment string) (key, value string, ok bool) {
	for _, sep := range []string{":", "="} {
		k, v, found := strings.Cut(fragment, sep)
		if !found {
			continue
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k != "" && !strings.Contains(k, " ") {
			return k, v, true
		}
	}
	return "", "", false
}

// coerceScalar maps string values onto JSON-compatible Go types.
func coerceScalar(s string) any {
	s = strings.TrimSpace(s)

	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	case "null", "none":
		return nil
	}

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		// NaN and Inf parse but cannot survive a JSON round trip.
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return s
		}
		return f
	}

	return s
}
