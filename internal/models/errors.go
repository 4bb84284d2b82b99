package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message. Err
// is the sentinel it wraps, if any.
type ErrValidation struct {
	Field   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Unwrap returns the wrapped sentinel.
func (e ErrValidation) Unwrap() error {
	return e.Err
}

// Common validation errors for models.
var (
	// ErrTargetIDRequired indicates a target without an ID.
	ErrTargetIDRequired = errors.New("target id is required")

	// ErrURIRequired indicates a target without a stream URI.
	ErrURIRequired = errors.New("target uri is required")
)
