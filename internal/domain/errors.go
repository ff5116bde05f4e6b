package domain

import (
	"errors"
	"fmt"
)

// ErrNoRules is returned when a rule source yields an empty rule set.
var ErrNoRules = errors.New("rule set is empty")

// ConfigurationError is a fatal failure to load or validate the rule set.
type ConfigurationError struct {
	Source string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
	return fmt.Sprintf("configuration error in %s: %v", e.Source, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ParserError reports a condition that failed to parse or type-check.
type ParserError struct {
	Condition string
	Err       error
}

func (e *ParserError) Error() string {
	return fmt.Sprintf("invalid condition %q: %v", e.Condition, e.Err)
}

func (e *ParserError) Unwrap() error { return e.Err }

// RenderError reports a template that references an undefined variable
// or is otherwise malformed.
type RenderError struct {
	Template string
	Variable string
	Err      error
}

func (e *RenderError) Error() string {
	if e.Variable != "" {
		return fmt.Sprintf("render %q: undefined variable %q", e.Template, e.Variable)
	}
	return fmt.Sprintf("render %q: %v", e.Template, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// CoercionWarning notes a value that could not be coerced to its declared
// type and was replaced by the variable's default.
type CoercionWarning struct {
	Field  string
	Value  any
	Target string
}

func (w CoercionWarning) Error() string {
	return fmt.Sprintf("cannot coerce %s=%v to %s, using default", w.Field, w.Value, w.Target)
}
