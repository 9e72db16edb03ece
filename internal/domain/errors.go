package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfiguration marks invalid generation, composition or engine parameters.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrValidation marks a record that failed schema checks.
	ErrValidation = errors.New("validation failed")
)

// ConfigurationError reports a bad parameter before any work is done.
type ConfigurationError struct {
	Field  string
	Reason string
}

// NewConfigurationError builds a ConfigurationError with a formatted reason.
func NewConfigurationError(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// FieldError is a single field-level diagnostic.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// ValidationError carries every diagnostic found for one record.
type ValidationError struct {
	Record string       `json:"record"`
	ID     string       `json:"id,omitempty"`
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	if e.ID != "" {
		return fmt.Sprintf("invalid %s %s: %s", e.Record, e.ID, strings.Join(parts, "; "))
	}
	return fmt.Sprintf("invalid %s: %s", e.Record, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
