package protocol

import "net/http"

// Error taxonomy. Names are wire identifiers, stable across versions.
const (
	ErrValidationFailed   = "validation_failed"
	ErrAuthRequired       = "auth_required"
	ErrAuthInvalid        = "auth_invalid"
	ErrRateLimited        = "rate_limited"
	ErrNotFound           = "not_found"
	ErrForbidden          = "forbidden"
	ErrConflict           = "conflict"
	ErrTooLarge           = "too_large"
	ErrOverloaded         = "overloaded"
	ErrSandboxUnavailable = "sandbox_unavailable"
	ErrInternal           = "internal"
)

// HTTPStatus maps an error code to its HTTP status family.
func HTTPStatus(code string) int {
	switch code {
	case ErrValidationFailed:
		return http.StatusBadRequest
	case ErrAuthRequired:
		return http.StatusUnauthorized
	case ErrAuthInvalid:
		return http.StatusForbidden
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrNotFound:
		return http.StatusNotFound
	case ErrForbidden:
		return http.StatusForbidden
	case ErrConflict:
		return http.StatusConflict
	case ErrTooLarge:
		return http.StatusRequestEntityTooLarge
	case ErrOverloaded, ErrSandboxUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
