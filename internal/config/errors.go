package config

import (
	"fmt"
	"strings"
)

// ConfigurationError describes why a configuration could not be loaded or
// is invalid.
type ConfigurationError struct {
	FilePath    string           `json:"filePath,omitempty"`
	ErrorType   string           `json:"errorType"` // io, parse or validation
	Message     string           `json:"message"`
	Details     string           `json:"details,omitempty"`
	Suggestions []string         `json:"suggestions,omitempty"`
	Fields      ValidationErrors `json:"fields,omitempty"`
}

func (ce *ConfigurationError) Error() string {
	var b strings.Builder
	if ce.FilePath != "" {
		fmt.Fprintf(&b, "%s: ", ce.FilePath)
	}
	b.WriteString(ce.Message)
	if ce.Details != "" {
		fmt.Fprintf(&b, ": %s", ce.Details)
	}
	return b.String()
}

// Unwrap exposes the field errors of a validation failure.
func (ce *ConfigurationError) Unwrap() error {
	if len(ce.Fields) == 0 {
		return nil
	}
	return ce.Fields
}

// DetailedError returns a multi-line message including suggestions.
func (ce *ConfigurationError) DetailedError() string {
	parts := []string{fmt.Sprintf("Configuration error (%s): %s", ce.ErrorType, ce.Message)}
	if ce.FilePath != "" {
		parts = append(parts, fmt.Sprintf("  File: %s", ce.FilePath))
	}
	if ce.Details != "" {
		parts = append(parts, fmt.Sprintf("  Details: %s", ce.Details))
	}
	for _, field := range ce.Fields {
		parts = append(parts, fmt.Sprintf("  - %s", field.Error()))
	}
	if len(ce.Suggestions) > 0 {
		parts = append(parts, "  Suggestions:")
		for _, suggestion := range ce.Suggestions {
			parts = append(parts, fmt.Sprintf("    - %s", suggestion))
		}
	}
	return strings.Join(parts, "\n")
}
