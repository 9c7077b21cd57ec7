package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeRateLimited  = "rate_limited"
	ErrCodeInternal     = "internal"
)

var (
	// ErrHubNotRunning is returned when an emit is attempted while the hub
	// event loop is not running.
	ErrHubNotRunning = errors.New("hub not running")
	// ErrBadPayload is returned for emits missing routing fields.
	ErrBadPayload = errors.New("bad payload")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

// NewError builds a CoreError.
func NewError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}
