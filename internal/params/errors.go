package params

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("parameter not found")
	ErrInvalidValue = errors.New("invalid parameter value")
)

// ConfigurationError names the (category, name) pair a parameter problem belongs to.
type ConfigurationError struct {
	Category string
	Name     string
	Reason   string
	Err      error
}

func (e *ConfigurationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("configuration: %s.%s: %v", e.Category, e.Name, e.Err)
	}
	return fmt.Sprintf("configuration: %s.%s: %s", e.Category, e.Name, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func notFound(category, name string) error {
	return &ConfigurationError{Category: category, Name: name, Err: ErrNotFound}
}

func invalid(category, name, reason string) error {
	return &ConfigurationError{Category: category, Name: name, Reason: reason, Err: ErrInvalidValue}
}
