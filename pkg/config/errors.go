package config

import (
	"errors"
	"fmt"
)

// Sentinel errors for registry lookups and file loading. Callers match with
// errors.Is; the lookup helpers wrap these with the offending identifier.
var (
	ErrConfigNotFound    = errors.New("configuration file not found")
	ErrInvalidYAML       = errors.New("invalid YAML syntax")
	ErrMCPServerNotFound = errors.New("MCP server not found")
	ErrRoleNotFound      = errors.New("role not found")
	ErrUserNotFound      = errors.New("user not found")
)

// ValidationError pins a validation failure to a component instance and,
// when known, the field inside it. Component is one of mcp_server, role,
// user, llm, defaults; ID names the instance (server ID, role name, user ID).
type ValidationError struct {
	Component string
	ID        string
	Field     string
	Err       error
}

// NewValidationError builds a ValidationError. Field may be empty when the
// failure concerns the component as a whole.
func NewValidationError(component, id, field string, err error) *ValidationError {
	return &ValidationError{Component: component, ID: id, Field: field, Err: err}
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s '%s': field '%s': %v", e.Component, e.ID, e.Field, e.Err)
	}
	return fmt.Sprintf("%s '%s': %v", e.Component, e.ID, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// LoadError attributes a load failure to the file that caused it, so an
// operator with two config files knows which one to fix.
type LoadError struct {
	File string
	Err  error
}

// NewLoadError wraps err with the originating file name.
func NewLoadError(file string, err error) *LoadError {
	return &LoadError{File: file, Err: err}
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
