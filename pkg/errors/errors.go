package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Rule    string `json:"rule,omitempty"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios. The registrar taxonomy:
// rule violations are recoverable by filing an approval request,
// conflicts by retrying, precondition failures are caller errors, and
// integrity errors signal a bug.
var (
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrLockTimeout        = New("LOCK_TIMEOUT", http.StatusConflict, "section busy, retry the request")
	ErrRuleViolated       = New("RULE_VIOLATED", http.StatusUnprocessableEntity, "enrollment rule violated")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrGradesLocked       = New("GRADES_LOCKED", http.StatusConflict, "section grading is locked")
	ErrIntegrity          = New("INTEGRITY_ERROR", http.StatusInternalServerError, "storage integrity violation")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// RuleViolation builds a RULE_VIOLATED error carrying the specific
// blocking rule so the caller can decide whether to file a request.
func RuleViolation(rule, reason string) *Error {
	return &Error{
		Code:    ErrRuleViolated.Code,
		Status:  ErrRuleViolated.Status,
		Message: reason,
		Rule:    rule,
	}
}

// Retryable reports whether the caller may safely retry the operation.
func Retryable(err error) bool {
	e := FromError(err)
	return e.Code == ErrConflict.Code || e.Code == ErrLockTimeout.Code
}

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
