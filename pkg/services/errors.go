package services

import (
	"errors"
	"fmt"
)

// ErrNotFound marks lookups of records that do not exist, such as audit
// record fetches by ID. The API layer maps it to 404.
var ErrNotFound = errors.New("entity not found")

// ValidationError reports a rejected request field. The API layer maps it
// to 400 with the field named in the response body.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError builds a ValidationError for one field.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// IsValidationError reports whether err wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
