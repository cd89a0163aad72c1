package apperr

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// Validation
	CodeValidation         Code = "VALIDATION_FAILED"
	CodeMissingPricingInfo Code = "MISSING_PRICING_INFO"

	// Identity and access
	CodeUnauthenticated  Code = "UNAUTHENTICATED"
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeNotVerified      Code = "NOT_VERIFIED"

	// Lookup
	CodeNotFound        Code = "NOT_FOUND"
	CodePaymentNotFound Code = "PAYMENT_NOT_FOUND"

	// State
	CodeIllegalTransition Code = "ILLEGAL_TRANSITION"
	CodeStateConflict     Code = "STATE_CONFLICT"
	CodeConflictExhausted Code = "CONFLICT_EXHAUSTED"

	// Payment and settlement
	CodePaymentNotConfirmed      Code = "PAYMENT_NOT_CONFIRMED"
	CodePayoutDestinationMissing Code = "PAYOUT_DESTINATION_MISSING"
	CodeInvalidSignature         Code = "INVALID_SIGNATURE"
	CodeAmountMismatch           Code = "AMOUNT_MISMATCH"
	CodeExternalService          Code = "EXTERNAL_SERVICE"
)

// HTTPStatus maps a code to the response status used by the HTTP layer.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidation, CodeMissingPricingInfo:
		return http.StatusBadRequest
	case CodeUnauthenticated, CodeInvalidSignature:
		return http.StatusUnauthorized
	case CodePermissionDenied, CodeNotVerified:
		return http.StatusForbidden
	case CodeNotFound, CodePaymentNotFound:
		return http.StatusNotFound
	case CodeIllegalTransition, CodeStateConflict, CodeConflictExhausted,
		CodePaymentNotConfirmed, CodeAmountMismatch:
		return http.StatusConflict
	case CodePayoutDestinationMissing:
		return http.StatusUnprocessableEntity
	case CodeExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a caller may safely repeat the operation.
func (c Code) Retryable() bool {
	return c == CodeConflictExhausted
}
