package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestExpandEnv(t *testing.T) {
	tests := []struct {
		name  string
		input string
		env   map[string]string
		want  string
	}{
		{
			name:  "single reference",
			input: "bearer_token: {{.GITHUB_TOKEN}}",
			env:   map[string]string{"GITHUB_TOKEN": "ghp_abc123"},
			want:  "bearer_token: ghp_abc123",
		},
		{
			name:  "several references on one line",
			input: "url: {{.PROTOCOL}}://{{.HOST}}:{{.PORT}}",
			env: map[string]string{
				"PROTOCOL": "https",
				"HOST":     "mcp.internal",
				"PORT":     "8443",
			},
			want: "url: https://mcp.internal:8443",
		},
		{
			name:  "references inside a yaml list",
			input: "args:\n  - {{.ARG1}}\n  - {{.ARG2}}",
			env:   map[string]string{"ARG1": "--readonly", "ARG2": "--schema=public"},
			want:  "args:\n  - --readonly\n  - --schema=public",
		},
		{
			name:  "unset variable becomes empty",
			input: "endpoint: {{.NOT_SET_ANYWHERE}}",
			env:   map[string]string{},
			want:  "endpoint: ",
		},
		{
			name:  "expanded value may contain dollar signs",
			input: "password: {{.DB_PASSWORD}}",
			env:   map[string]string{"DB_PASSWORD": "p@ssw0rd!#$%"},
			want:  "password: p@ssw0rd!#$%",
		},
		{
			name:  "shell style reference stays literal",
			input: "pattern: ${USER_ID}",
			env:   map[string]string{"USER_ID": "123"},
			want:  "pattern: ${USER_ID}",
		},
		{
			name:  "masking regex anchors stay literal",
			input: "pattern: ^secret.*$",
			env:   map[string]string{},
			want:  "pattern: ^secret.*$",
		},
		{
			name:  "bare dollar in a password stays literal",
			input: "password: p@ss$word",
			env:   map[string]string{},
			want:  "password: p@ss$word",
		},
		{
			name:  "content without references passes through",
			input: "static: value",
			env:   map[string]string{"UNRELATED": "value"},
			want:  "static: value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.env {
				t.Setenv(key, value)
			}
			assert.Equal(t, tt.want, string(ExpandEnv([]byte(tt.input))))
		})
	}
}

// Malformed templates return the input bytes untouched. The YAML parser then
// reports the real location instead of a template error with no line info.
func TestExpandEnv_MalformedTemplatePassesThrough(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"unclosed reference", "key: {{.VAR"},
		{"empty braces", "key: {{}}"},
		{"nested braces", "key: {{.VAR1 {{.VAR2}}}}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := []byte(tt.input)
			assert.Equal(t, input, ExpandEnv(input))
		})
	}
}

// A realistic server block round-trips through expansion and YAML parsing.
func TestExpandEnv_YAMLRoundTrip(t *testing.T) {
	t.Setenv("PG_CONN", "postgres://ro:ro@db.test:5432/orders")
	t.Setenv("MCP_TOKEN", "tok-42")

	input := []byte(`
database-mcp:
  transport:
    type: stdio
    command: npx
    env:
      DATABASE_URL: "{{.PG_CONN}}"
github-mcp:
  transport:
    type: http
    url: https://mcp.example.com/v1
    bearer_token: {{.MCP_TOKEN}}
`)

	var parsed map[string]any
	require.NoError(t, yaml.Unmarshal(ExpandEnv(input), &parsed))

	db := parsed["database-mcp"].(map[string]any)["transport"].(map[string]any)
	env := db["env"].(map[string]any)
	assert.Equal(t, "postgres://ro:ro@db.test:5432/orders", env["DATABASE_URL"])

	gh := parsed["github-mcp"].(map[string]any)["transport"].(map[string]any)
	assert.Equal(t, "tok-42", gh["bearer_token"])
}
