package template

import (
	"strings"
)

// MaxVariableBytes caps a single substituted variable value. Values beyond
// the cap are truncated, not rejected, so an oversized chat message still
// renders.
const MaxVariableBytes = 8 * 1024

// Render substitutes {{var}} placeholders in the template body.
//
// Every declared variable must be present in variables; extra variables are
// ignored. Substituted values are stripped of NUL bytes and truncated at
// MaxVariableBytes.
func Render(t *Template, variables map[string]string) (string, error) {
	for _, name := range t.Variables {
		if _, ok := variables[name]; !ok {
			return "", &VariableMissingError{Template: t.Name, Variable: name}
		}
	}

	return placeholderRe.ReplaceAllStringFunc(t.Body, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		value := variables[name]
		value = strings.ReplaceAll(value, "\x00", "")
		if len(value) > MaxVariableBytes {
			value = value[:MaxVariableBytes]
		}
		return value
	}), nil
}
