// Package manifest loads the optional startup manifest: a YAML file listing
// applications the daemon deploys on boot. Parsing is pure; only Load touches
// the filesystem.
package manifest

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Input validation errors
	ErrEmptyManifest = errors.New("manifest is empty")

	// YAML parsing errors
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// Manifest structure errors
	ErrNoApps = errors.New("manifest must list at least one app")

	// App entry validation errors
	ErrMissingName     = errors.New("app entry requires a name")
	ErrMissingArtifact = errors.New("app entry requires an artifact path")
	ErrInvalidCount    = errors.New("app count cannot be negative")
)

// ParseError wraps errors with context about where parsing failed.
type ParseError struct {
	Field   string // e.g., "apps[0].artifact"
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError creates a new ParseError.
func NewParseError(field, message string, err error) *ParseError {
	return &ParseError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}
