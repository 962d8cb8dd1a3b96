// Package apperror defines the error taxonomy shared by the services and the
// HTTP layer. Each error carries a kind (one of the sentinel errors below), a
// stable machine-readable code and a human-readable message.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidGrant means the provider rejected an authorization code.
	ErrInvalidGrant = errors.New("invalid grant")
	// ErrUnauthorized means a provider token or a session token was rejected.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConflict means a uniqueness rule or the last-auth-method rule was violated.
	ErrConflict = errors.New("conflict")
	// ErrNotFound means the referenced user, link or resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation means the caller supplied malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden means the caller may not act on the resource.
	ErrForbidden = errors.New("forbidden")
)

// Error is a classified application error.
type Error struct {
	Kind    error
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes both the kind and the underlying cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: cause}
}

func InvalidGrant(message string, cause error) *Error {
	return newError(ErrInvalidGrant, "invalid_grant", message, cause)
}

func Unauthorized(code, message string, cause error) *Error {
	return newError(ErrUnauthorized, code, message, cause)
}

func Conflict(code, message string) *Error {
	return newError(ErrConflict, code, message, nil)
}

// ConflictFrom wraps a storage-level cause, typically a UniqueViolation.
func ConflictFrom(code, message string, cause error) *Error {
	return newError(ErrConflict, code, message, cause)
}

func NotFound(code, message string) *Error {
	return newError(ErrNotFound, code, message, nil)
}

func Validation(code, message string) *Error {
	return newError(ErrValidation, code, message, nil)
}

func Forbidden(code, message string) *Error {
	return newError(ErrForbidden, code, message, nil)
}

// HTTPStatus maps an error onto the status code the API responds with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidGrant), errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the machine-readable code, or "internal_error" for unclassified errors.
func Code(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Code != "" {
		return appErr.Code
	}
	return "internal_error"
}

// Message returns the user-visible message. Unclassified errors never leak their text.
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return "internal server error"
}
