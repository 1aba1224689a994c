package types

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Provider error codes form the closed taxonomy of failure modes for calls
// to the Stripe API. Each code maps to exactly one HTTP status and one fixed,
// non-sensitive client message; the underlying provider error text is logged
// but never returned to the caller.
const (
	ErrCodeProviderConnection  ErrorCode = "provider_connection_error"
	ErrCodeProviderAPI         ErrorCode = "provider_api_error"
	ErrCodeProviderAuth        ErrorCode = "provider_auth_error"
	ErrCodeProviderPermission  ErrorCode = "provider_permission_error"
	ErrCodeProviderRateLimited ErrorCode = "provider_rate_limited"
	ErrCodeProviderInvalid     ErrorCode = "provider_invalid_request"
	ErrCodeProviderCard        ErrorCode = "provider_card_error"
	ErrCodeProviderIdempotency ErrorCode = "provider_idempotency_error"
	ErrCodeProviderSignature   ErrorCode = "provider_signature_error"
	ErrCodeProviderTimeout     ErrorCode = "provider_timeout"
	ErrCodeProviderQuery       ErrorCode = "provider_query_error"
	ErrCodeProviderIntegrity   ErrorCode = "provider_integrity_error"
	ErrCodeProviderNotFound    ErrorCode = "provider_not_found"
	ErrCodeProviderUnavailable ErrorCode = "provider_unavailable"
	// ErrCodeProvider is the catch-all for provider failures that match no
	// more specific kind.
	ErrCodeProvider ErrorCode = "provider_error"
	// ErrCodeStorage is the catch-all for non-provider failures raised while
	// executing a guarded operation.
	ErrCodeStorage ErrorCode = "storage_error"
)

// Validation and chassis error codes.
// All handlers MUST use these constants instead of hardcoded strings.
const (
	ErrCodeValidationMissingField  ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidAmount ErrorCode = "validation_invalid_amount"
	ErrCodeValidationInvalidEmail  ErrorCode = "validation_invalid_email"

	ErrCodeAuthRequired ErrorCode = "auth_required"

	ErrCodeNotFoundPlan     ErrorCode = "not_found_plan"
	ErrCodeNotFoundCustomer ErrorCode = "not_found_customer"
	ErrCodeNotFoundResource ErrorCode = "not_found_resource_kind"

	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
)

// providerStatus maps each provider taxonomy code to its fixed HTTP status.
// Kinds are mutually exclusive by construction: each corresponds to a disjoint
// failure cause from the provider client.
var providerStatus = map[ErrorCode]int{
	ErrCodeProviderConnection:  http.StatusServiceUnavailable,
	ErrCodeProviderAPI:         http.StatusBadGateway,
	ErrCodeProviderAuth:        http.StatusUnauthorized,
	ErrCodeProviderPermission:  http.StatusForbidden,
	ErrCodeProviderRateLimited: http.StatusTooManyRequests,
	ErrCodeProviderInvalid:     http.StatusBadRequest,
	ErrCodeProviderCard:        http.StatusPaymentRequired,
	ErrCodeProviderIdempotency: http.StatusConflict,
	ErrCodeProviderSignature:   http.StatusBadRequest,
	ErrCodeProviderTimeout:     http.StatusGatewayTimeout,
	ErrCodeProviderQuery:       http.StatusBadRequest,
	ErrCodeProviderIntegrity:   http.StatusConflict,
	ErrCodeProviderNotFound:    http.StatusNotFound,
	ErrCodeProviderUnavailable: http.StatusServiceUnavailable,
	ErrCodeProvider:            http.StatusInternalServerError,
	ErrCodeStorage:             http.StatusInternalServerError,
}

// providerMessage maps each provider taxonomy code to the fixed client-facing
// message. Messages are intentionally generic; the real cause stays in logs.
var providerMessage = map[ErrorCode]string{
	ErrCodeProviderConnection:  "connection error",
	ErrCodeProviderAPI:         "API error",
	ErrCodeProviderAuth:        "authentication error",
	ErrCodeProviderPermission:  "insufficient permissions",
	ErrCodeProviderRateLimited: "rate limit exceeded",
	ErrCodeProviderInvalid:     "invalid request",
	ErrCodeProviderCard:        "card error",
	ErrCodeProviderIdempotency: "idempotency error",
	ErrCodeProviderSignature:   "signature verification error",
	ErrCodeProviderTimeout:     "timeout error",
	ErrCodeProviderQuery:       "query error",
	ErrCodeProviderIntegrity:   "integrity error",
	ErrCodeProviderNotFound:    "resource not found",
	ErrCodeProviderUnavailable: "service unavailable",
	ErrCodeProvider:            "a provider error occurred",
	ErrCodeStorage:             "a storage error occurred",
}

// warnLevelCodes lists the provider codes logged at warn rather than error
// severity: caller mistakes, throttling, and duplicates, not integration
// breakage.
var warnLevelCodes = map[ErrorCode]bool{
	ErrCodeProviderPermission:  true,
	ErrCodeProviderRateLimited: true,
	ErrCodeProviderIntegrity:   true,
	ErrCodeProviderNotFound:    true,
}

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the API layer to translate AppErrors into HTTP responses.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	if status, ok := providerStatus[c]; ok {
		return status
	}
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// SafeMessage returns the fixed client-facing message for a provider taxonomy
// code, or the empty string for codes outside the provider taxonomy.
func (c ErrorCode) SafeMessage() string {
	return providerMessage[c]
}

// LogLevel returns the severity at which a failure with this code is logged.
func (c ErrorCode) LogLevel() slog.Level {
	if warnLevelCodes[c] {
		return slog.LevelWarn
	}
	return slog.LevelError
}

// metricLabel maps each provider taxonomy code to the short error_type label
// used on error counters. The vocabulary is deliberately stable; dashboards
// and alerts key on these values.
var metricLabel = map[ErrorCode]string{
	ErrCodeProviderConnection:  "connection_error",
	ErrCodeProviderAPI:         "api_error",
	ErrCodeProviderAuth:        "auth",
	ErrCodeProviderPermission:  "permission",
	ErrCodeProviderRateLimited: "rate_limit",
	ErrCodeProviderInvalid:     "invalid_request",
	ErrCodeProviderCard:        "card",
	ErrCodeProviderIdempotency: "idempotency",
	ErrCodeProviderSignature:   "signature_verification",
	ErrCodeProviderTimeout:     "timeout",
	ErrCodeProviderQuery:       "query",
	ErrCodeProviderIntegrity:   "integrity",
	ErrCodeProviderNotFound:    "not_found",
	ErrCodeProviderUnavailable: "service_unavailable",
	ErrCodeProvider:            "stripe",
	ErrCodeStorage:             "server",
}

// MetricLabel returns the error_type label recorded on error counters for this
// code. Codes outside the provider taxonomy collapse to "client" or "server"
// by their HTTP status class.
func (c ErrorCode) MetricLabel() string {
	if label, ok := metricLabel[c]; ok {
		return label
	}
	if c.HTTPStatus() >= http.StatusInternalServerError {
		return "server"
	}
	return "client"
}

// IsProviderCode reports whether c belongs to the closed provider taxonomy.
func (c ErrorCode) IsProviderCode() bool {
	_, ok := providerStatus[c]
	return ok
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

// NewProviderError creates an AppError for a provider taxonomy code, using the
// code's fixed safe message. The underlying cause is attached for logging but
// never serialized to clients.
func NewProviderError(code ErrorCode, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: code.SafeMessage(),
		Err:     err,
	}
}
