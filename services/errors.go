package services

import (
	"errors"
	"fmt"
)

// Error kinds. Handlers map them to HTTP status codes with errors.Is.
var (
	ErrValidation    = errors.New("validation failed")
	ErrPermission    = errors.New("permission denied")
	ErrNotFound      = errors.New("not found")
	ErrExternal      = errors.New("external service failed")
	ErrCaseSubmitted = errors.New("case already submitted")
)

// Error is a domain error of one kind with a message safe to show to callers.
// Code is a stable identifier clients can switch on, e.g. "recent-token".
type Error struct {
	Kind    error
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Is matches the error kind so errors.Is(err, ErrValidation) works through wrapping
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ValidationError reports invalid input or an illegal state change
func ValidationError(code, format string, args ...interface{}) *Error {
	return &Error{Kind: ErrValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

// PermissionError reports a denied access; the message never names the resource
func PermissionError(code, format string, args ...interface{}) *Error {
	return &Error{Kind: ErrPermission, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing resource
func NotFoundError(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrNotFound, Code: "not-found", Message: fmt.Sprintf(format, args...)}
}

// ExternalError wraps a failure of an outside service such as the SMS gateway
func ExternalError(code string, err error) *Error {
	return &Error{Kind: ErrExternal, Code: code, Message: "external service failed", Err: err}
}

// CaseSubmittedError signals that an unkeyed case was already submitted and
// the client must be sent to the submitted page
func CaseSubmittedError(humanID string) *Error {
	return &Error{Kind: ErrCaseSubmitted, Code: "case-submitted", Message: humanID}
}

// ErrorCode extracts the stable code of a domain error, or "" for other errors
func ErrorCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// PublicMessage returns the message of a domain error, or fallback for other errors
func PublicMessage(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return fallback
}
