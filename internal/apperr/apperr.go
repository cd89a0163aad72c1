// Package apperr defines the error taxonomy shared by the order, payment and
// settlement services.
package apperr

import "errors"

// Error is a domain error carrying a stable code.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil && e.Message != "" {
		return e.Message + ": " + e.Cause.Error()
	}
	if e.Message == "" && e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinels for errors.Is comparisons. Matching is by code, so any *Error
// with the same code satisfies errors.Is(err, ErrX).
var (
	ErrValidation               = New(CodeValidation, "validation failed")
	ErrMissingPricingInfo       = New(CodeMissingPricingInfo, "pricing information missing")
	ErrUnauthenticated          = New(CodeUnauthenticated, "unauthenticated")
	ErrPermissionDenied         = New(CodePermissionDenied, "permission denied")
	ErrNotVerified              = New(CodeNotVerified, "account not verified")
	ErrNotFound                 = New(CodeNotFound, "not found")
	ErrPaymentNotFound          = New(CodePaymentNotFound, "payment not found")
	ErrIllegalTransition        = New(CodeIllegalTransition, "illegal status transition")
	ErrStateConflict            = New(CodeStateConflict, "state conflict")
	ErrConflictExhausted        = New(CodeConflictExhausted, "concurrent modification, retry later")
	ErrPaymentNotConfirmed      = New(CodePaymentNotConfirmed, "payment not confirmed")
	ErrPayoutDestinationMissing = New(CodePayoutDestinationMissing, "payout destination missing")
	ErrInvalidSignature         = New(CodeInvalidSignature, "invalid callback signature")
	ErrAmountMismatch           = New(CodeAmountMismatch, "amount mismatch")
	ErrExternalService          = New(CodeExternalService, "external service failure")
)

// Validation returns a validation error with the given message.
func Validation(message string) *Error {
	return New(CodeValidation, message)
}

// NotFound returns a not-found error naming the missing entity.
func NotFound(what string) *Error {
	return New(CodeNotFound, what+" not found")
}

// Forbidden returns a permission error with the given message.
func Forbidden(message string) *Error {
	return New(CodePermissionDenied, message)
}

// Conflict returns a non-retryable state conflict.
func Conflict(message string) *Error {
	return New(CodeStateConflict, message)
}

// External wraps a collaborator failure.
func External(message string, cause error) *Error {
	return Wrap(CodeExternalService, message, cause)
}

// CodeOf extracts the code of the first *Error in err's chain.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// Retryable reports whether err represents a transient conflict.
func Retryable(err error) bool {
	return CodeOf(err).Retryable()
}
