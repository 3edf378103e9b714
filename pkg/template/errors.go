package template

import "fmt"

// UnknownError indicates a lookup for a template that is not registered or
// not allowlisted.
type UnknownError struct {
	Name string
}

func (e *UnknownError) Error() string {
	return fmt.Sprintf("unknown template %q", e.Name)
}

// VariableMissingError indicates a render call that did not supply a declared
// variable.
type VariableMissingError struct {
	Template string
	Variable string
}

func (e *VariableMissingError) Error() string {
	return fmt.Sprintf("template %q: missing variable %q", e.Template, e.Variable)
}
