// Package template provides the prompt template registry and renderer.
// Templates are loaded once at startup, validated, and immutable after
// registration; a new version is a new entry.
package template

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// SafetyLevel controls how much context the orchestrator feeds a template.
type SafetyLevel string

const (
	SafetyLow    SafetyLevel = "low"
	SafetyMedium SafetyLevel = "medium"
	SafetyHigh   SafetyLevel = "high"
)

// OutputFormat is the output grammar a template instructs the model to use.
type OutputFormat string

const (
	OutputJSON OutputFormat = "json"
	OutputText OutputFormat = "text"
)

// Template is a named, versioned prompt with typed placeholders.
type Template struct {
	Name           string       `yaml:"name"`
	Version        string       `yaml:"version"`
	SafetyLevel    SafetyLevel  `yaml:"safety_level"`
	ExpectedOutput OutputFormat `yaml:"expected_output"`
	Body           string       `yaml:"body"`
	Variables      []string     `yaml:"variables"`
}

// templateFile is the on-disk template file structure.
type templateFile struct {
	Templates []*Template `yaml:"templates"`
}

// placeholderRe extracts {{var}} placeholders from template bodies.
var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Registry holds registered templates keyed by name. All lookups after
// startup are read-only; no further registration after LoadFile returns.
type Registry struct {
	templates map[string]*Template
	allowlist map[string]bool
}

// NewRegistry creates an empty registry with the given server-side name
// allowlist. Lookups for names outside the allowlist fail even when the
// template exists (prompt-injection hardening).
func NewRegistry(allowlist []string) *Registry {
	allowed := make(map[string]bool, len(allowlist))
	for _, name := range allowlist {
		allowed[name] = true
	}
	return &Registry{
		templates: make(map[string]*Template),
		allowlist: allowed,
	}
}

// LoadFile parses and registers all templates from the template file.
// Every template is validated on registration; any invalid template fails
// the whole load (bug class, caught at startup).
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read template file: %w", err)
	}
	var tf templateFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return fmt.Errorf("parse template file %s: %w", path, err)
	}
	for _, tmpl := range tf.Templates {
		if err := r.register(tmpl); err != nil {
			return fmt.Errorf("template %q: %w", tmpl.Name, err)
		}
	}
	return nil
}

func (r *Registry) register(t *Template) error {
	if t.Name == "" {
		return fmt.Errorf("name is required")
	}
	if t.Version == "" {
		return fmt.Errorf("version is required")
	}
	if _, exists := r.templates[t.Name]; exists {
		return fmt.Errorf("duplicate template name")
	}
	switch t.SafetyLevel {
	case SafetyLow, SafetyMedium, SafetyHigh:
	default:
		return fmt.Errorf("invalid safety_level %q", t.SafetyLevel)
	}
	switch t.ExpectedOutput {
	case OutputJSON, OutputText:
	default:
		return fmt.Errorf("invalid expected_output %q", t.ExpectedOutput)
	}

	declared := make(map[string]bool, len(t.Variables))
	for _, v := range t.Variables {
		declared[v] = true
	}
	for _, m := range placeholderRe.FindAllStringSubmatch(t.Body, -1) {
		if !declared[m[1]] {
			return fmt.Errorf("placeholder {{%s}} not in declared variables", m[1])
		}
	}

	// A JSON template must actually instruct the model to emit JSON,
	// otherwise the tolerant parser downstream has nothing to extract.
	if t.ExpectedOutput == OutputJSON && !strings.Contains(strings.ToLower(t.Body), "json") {
		return fmt.Errorf("expected_output is json but body carries no JSON output instruction")
	}

	r.templates[t.Name] = t
	return nil
}

// Get returns the template by name. Names outside the allowlist return
// ErrTemplateUnknown even when registered.
func (r *Registry) Get(name string) (*Template, error) {
	if len(r.allowlist) > 0 && !r.allowlist[name] {
		return nil, &UnknownError{Name: name}
	}
	t, ok := r.templates[name]
	if !ok {
		return nil, &UnknownError{Name: name}
	}
	return t, nil
}

// List returns name/version pairs of all allowlisted templates.
func (r *Registry) List() []Info {
	out := make([]Info, 0, len(r.templates))
	for name, t := range r.templates {
		if len(r.allowlist) > 0 && !r.allowlist[name] {
			continue
		}
		out = append(out, Info{
			Name:           t.Name,
			Version:        t.Version,
			SafetyLevel:    t.SafetyLevel,
			ExpectedOutput: t.ExpectedOutput,
		})
	}
	return out
}

// Info is the externally visible summary of a registered template.
type Info struct {
	Name           string       `json:"name"`
	Version        string       `json:"version"`
	SafetyLevel    SafetyLevel  `json:"safety_level"`
	ExpectedOutput OutputFormat `json:"expected_output"`
}
