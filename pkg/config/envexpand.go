package config

import (
	"bytes"
	"os"
	"text/template"
)

// ExpandEnv expands environment variables in YAML content using Go template
// {{.VAR_NAME}} syntax. Plain $ stays untouched, which matters here: the
// pattern file is full of regex anchors ($) and webhook URLs may carry
// literal dollar signs.
//
// Examples:
//   - {{.MODERATOR_WEBHOOK_URL}} expands to that variable's value
//   - {{.DB_HOST}}:{{.DB_PORT}} expands both
//   - pattern: "^[^a-z]{40,}$" passes through literally
//
// Missing variables expand to empty string; validation catches required
// fields left empty.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		// If template parsing fails, return original data
		// This allows YAML without any template syntax to pass through
		return data
	}

	// Build environment map for template
	envMap := make(map[string]string)
	for _, env := range os.Environ() {
		// Split only on first = to handle values with = in them
		if idx := bytes.IndexByte([]byte(env), '='); idx > 0 {
			key := env[:idx]
			value := env[idx+1:]
			envMap[key] = value
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, envMap); err != nil {
		// If execution fails, return original data
		return data
	}

	return buf.Bytes()
}
