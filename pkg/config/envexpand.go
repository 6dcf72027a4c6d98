package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv substitutes {{.VAR_NAME}} references in raw YAML with environment
// values before parsing. Go template syntax is used instead of $VAR expansion
// because config values legitimately contain dollar signs: masking regexes
// ("^secret.*$"), passwords, shell snippets in stdio server args. Those pass
// through untouched.
//
// Unset variables expand to the empty string; the validator decides which
// empty fields are fatal. Content that fails to parse or execute as a
// template is returned unmodified so plain YAML never breaks.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, environMap()); err != nil {
		return data
	}
	return buf.Bytes()
}

// environMap snapshots the process environment as a template context.
// Values may themselves contain "=", so only the first one splits.
func environMap() map[string]string {
	environ := os.Environ()
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			env[k] = v
		}
	}
	return env
}
