package core

import (
	"errors"
	"fmt"
)

// ErrConfiguration is the sentinel matched by every ConfigurationError.
var ErrConfiguration = errors.New("configuration error")

// ConfigurationError reports a fatal precondition violation, such as calling
// Advance before Reset or an invalid run configuration. It is never retried.
type ConfigurationError struct {
	Field   string
	Message string
}

// Error implements error.
func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %s", e.Message)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
}

// Is makes errors.Is(err, ErrConfiguration) succeed.
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// NewConfigurationError constructs a ConfigurationError.
func NewConfigurationError(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
