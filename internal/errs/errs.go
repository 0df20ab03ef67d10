// Package errs defines the error taxonomy shared by the crisis, session and
// consent services. State-mutating operations return typed errors so callers
// can map them to user-visible behavior without inspecting messages.
package errs

import (
	"github.com/pkg/errors"
)

// Kind classifies an error for propagation decisions.
type Kind string

const (
	// KindValidation marks bad input rejected before any state mutation.
	KindValidation Kind = "validation"
	// KindNotFound marks an unknown entity ID.
	KindNotFound Kind = "not_found"
	// KindConflict marks an invalid state transition.
	KindConflict Kind = "conflict"
	// KindSecurityViolation marks a violation that forces termination as a
	// side effect and is logged at high severity.
	KindSecurityViolation Kind = "security_violation"
	// KindDependency marks an unavailable collaborator (store, notifier,
	// classifier).
	KindDependency Kind = "dependency"
)

// Error is a classified error with an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// Validation creates a validation error.
func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: errors.Errorf(format, args...).Error()}
}

// NotFound creates a not-found error.
func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: errors.Errorf(format, args...).Error()}
}

// Conflict creates an invalid-state-transition error.
func Conflict(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: errors.Errorf(format, args...).Error()}
}

// SecurityViolation creates a security violation error.
func SecurityViolation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindSecurityViolation, Message: errors.Errorf(format, args...).Error()}
}

// Dependency wraps a collaborator failure.
func Dependency(cause error, message string) *Error {
	return &Error{Kind: KindDependency, Message: message, cause: cause}
}

// KindOf returns the kind of err, or "" when err carries no classification.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsConflict reports whether err is a conflict error.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsSecurityViolation reports whether err is a security violation.
func IsSecurityViolation(err error) bool { return KindOf(err) == KindSecurityViolation }

// IsDependency reports whether err is a dependency failure.
func IsDependency(err error) bool { return KindOf(err) == KindDependency }
