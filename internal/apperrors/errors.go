// Package apperrors defines coded application errors shared across the
// service. Codes classify failures into the retry taxonomy: unavailable is
// transient and may be retried, validation-family codes must never be
// retried with unchanged input, internal is a programming or infrastructure
// fault.
package apperrors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies an application error.
type ErrorCode string

const (
	ErrCodeInternal       ErrorCode = "internal"
	ErrCodeNotFound       ErrorCode = "not_found"
	ErrCodeInvalidInput   ErrorCode = "invalid_input"
	ErrCodeConflict       ErrorCode = "conflict"
	ErrCodeUnauthorized   ErrorCode = "unauthorized"
	ErrCodeUnavailable    ErrorCode = "unavailable"
	ErrCodeUnbalanced     ErrorCode = "unbalanced"
	ErrCodePeriodClosed   ErrorCode = "period_closed"
	ErrCodeUnknownAccount ErrorCode = "unknown_account"
	ErrCodeValidation     ErrorCode = "validation"
)

// Error is a coded application error.
type Error struct {
	Code    ErrorCode
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

// New creates a coded error.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a code and message, preserving the cause chain.
func Wrap(err error, code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s %q not found", resource, id)}
}

// InvalidInput reports a rejected input field.
func InvalidInput(field, message string) *Error {
	return &Error{Code: ErrCodeInvalidInput, Message: fmt.Sprintf("%s: %s", field, message)}
}

// Code extracts the ErrorCode from err, or ErrCodeInternal when err carries
// no code.
func Code(err error) ErrorCode {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsTransient reports whether err should go back through the task retry
// mechanism rather than straight to a human.
func IsTransient(err error) bool {
	return Code(err) == ErrCodeUnavailable
}

// IsValidation reports whether err belongs to the validation/invariant family
// that must never be retried with unchanged input.
func IsValidation(err error) bool {
	switch Code(err) {
	case ErrCodeInvalidInput, ErrCodeValidation, ErrCodeUnbalanced, ErrCodePeriodClosed, ErrCodeUnknownAccount:
		return true
	}
	return false
}
