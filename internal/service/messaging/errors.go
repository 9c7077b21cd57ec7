package messaging

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks requests rejected for bad or missing fields.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden marks callers that are not a legitimate party to the job.
	ErrForbidden = errors.New("forbidden")
)

// ValidationError describes a rejected field. It matches ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// AuthorizationError describes why a caller was refused. It matches ErrForbidden.
type AuthorizationError struct {
	UserID string
	Reason string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("user %s: %s", e.UserID, e.Reason)
}

func (e *AuthorizationError) Unwrap() error { return ErrForbidden }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func forbidden(userID, reason string) error {
	return &AuthorizationError{UserID: userID, Reason: reason}
}
