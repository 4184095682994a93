package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All handlers MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidTier  ErrorCode = "validation_invalid_tier"
	ErrCodeValidationInvalidEmail ErrorCode = "validation_invalid_email"

	// Auth (401)
	ErrCodeAuthTokenMissing     ErrorCode = "auth_token_missing"
	ErrCodeAuthTokenInvalid     ErrorCode = "auth_token_invalid"
	ErrCodeAuthUnauthenticated  ErrorCode = "auth_unauthenticated"
	ErrCodeWebhookUnverified    ErrorCode = "auth_webhook_signature_invalid"

	// Entitlement outcomes. These are expected, recoverable results of the
	// decision layer, carried as errors so callers can branch on them with
	// errors.As rather than receiving panics or booleans.
	ErrCodeQuotaExhausted  ErrorCode = "quota_exhausted"             // 402
	ErrCodeFairUseExceeded ErrorCode = "limit_fair_use_exceeded"     // 429
	ErrCodeDuplicateGrant  ErrorCode = "conflict_duplicate_grant"    // 409
	ErrCodeConflictStale   ErrorCode = "conflict_stale_modification" // 409

	// Promo validation failures. The not-found and inactive cases are
	// deliberately merged into promo_invalid_code so callers cannot
	// enumerate which codes exist.
	ErrCodePromoInvalidCode  ErrorCode = "promo_invalid_code"
	ErrCodePromoExpired      ErrorCode = "promo_expired"
	ErrCodePromoNotYetValid  ErrorCode = "promo_not_yet_valid"
	ErrCodePromoExhausted    ErrorCode = "promo_exhausted"
	ErrCodePromoWrongTier    ErrorCode = "promo_wrong_tier"
	ErrCodePromoAlreadyUsed  ErrorCode = "promo_already_used"

	// Not Found (404)
	ErrCodeNotFoundUser     ErrorCode = "not_found_user"
	ErrCodeNotFoundPaper    ErrorCode = "not_found_paper"
	ErrCodeNotFoundGrant    ErrorCode = "not_found_grant"
	ErrCodeNotFoundReferral ErrorCode = "not_found_referral"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamStripe     ErrorCode = "upstream_stripe_unavailable"
	ErrCodeUpstreamRateLimit  ErrorCode = "upstream_rate_limited"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the API layer to translate AppErrors into HTTP responses.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized // 401
	case s == string(ErrCodeQuotaExhausted):
		return http.StatusPaymentRequired // 402
	case s == string(ErrCodeFairUseExceeded):
		return http.StatusTooManyRequests // 429
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict // 409
	case strings.HasPrefix(s, "promo_"):
		return http.StatusUnprocessableEntity // 422
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the standard application error type used throughout the service.
// All domain and handler errors should be expressed as AppError to enable
// consistent error formatting, HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
// This is useful for adding context without mutating the original error.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with the given code, message,
// underlying error, and structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// IsCode reports whether err is (or wraps) an AppError with the given code.
// Handlers use this to branch on expected outcomes such as quota exhaustion
// or a duplicate grant without unpacking the error chain themselves.
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}
