// Package apperr defines the code-tagged error type shared by all layers.
// Handlers map codes to HTTP statuses; services and repositories only ever
// attach codes, never statuses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error for callers.
type Code string

const (
	CodeValidation      Code = "VALIDATION"
	CodePolicyViolation Code = "POLICY_VIOLATION"
	CodeUnauthorized    Code = "UNAUTHORIZED"
	CodeNotFound        Code = "NOT_FOUND"
	CodeAlreadyResolved Code = "ALREADY_RESOLVED"
	CodeLimitExceeded   Code = "LIMIT_EXCEEDED"
	CodeRouting         Code = "ROUTING"
	CodeConflict        Code = "CONFLICT"
	CodeInternal        Code = "INTERNAL"
)

// Error is a code-tagged error with an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a code-tagged error.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Newf creates a code-tagged error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return Newf(CodeNotFound, "%s %q not found", resource, id)
}

// InvalidInput reports a malformed or out-of-range field.
func InvalidInput(field, msg string) *Error {
	return Newf(CodeValidation, "%s: %s", field, msg)
}

// Unauthorized reports a caller acting outside their authority.
func Unauthorized(msg string) *Error {
	return New(CodeUnauthorized, msg)
}

// CodeOf extracts the code from an error chain, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Is reports whether the error chain carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps an error code to its HTTP response status.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeValidation, CodePolicyViolation:
		return http.StatusBadRequest
	case CodeUnauthorized, CodeLimitExceeded:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyResolved, CodeConflict, CodeRouting:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
