// Package errors provides the typed error taxonomy the dispatcher maps to
// the wire error shape at the HTTP boundary.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
)

// ProxyError is the base error type every taxonomy member embeds.
type ProxyError struct {
	Message   string
	Code      string
	Retryable bool
	Metadata  map[string]interface{}
}

func (e *ProxyError) Error() string { return e.Message }

// ToJSON renders the sanitized client-facing error payload.
func (e *ProxyError) ToJSON() map[string]interface{} {
	result := map[string]interface{}{
		"code":      e.Code,
		"message":   e.Message,
		"retryable": e.Retryable,
	}
	for k, v := range e.Metadata {
		result[k] = v
	}
	return result
}

func (e *ProxyError) MarshalJSON() ([]byte, error) { return json.Marshal(e.ToJSON()) }

func newBase(message, code string, retryable bool, metadata map[string]interface{}) *ProxyError {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	return &ProxyError{Message: message, Code: code, Retryable: retryable, Metadata: metadata}
}

// InvalidRequestError signals a malformed or out-of-bounds request body.
type InvalidRequestError struct{ *ProxyError }

func NewInvalidRequestError(message string) *InvalidRequestError {
	return &InvalidRequestError{newBase(message, "INVALID_REQUEST", false, nil)}
}

// AuthError signals an upstream 401 / invalid_grant for a specific account.
type AuthError struct {
	*ProxyError
	AccountEmail string
	Reason       string
}

func NewAuthError(message, accountEmail, reason string) *AuthError {
	base := newBase(message, "AUTH_INVALID", false, map[string]interface{}{
		"reason": reason,
	})
	return &AuthError{ProxyError: base, AccountEmail: accountEmail, Reason: reason}
}

// PermissionError signals an upstream 403 for a specific account.
type PermissionError struct {
	*ProxyError
	AccountEmail string
}

func NewPermissionError(message, accountEmail string) *PermissionError {
	return &PermissionError{newBase(message, "PERMISSION_DENIED", false, nil), accountEmail}
}

// RateLimitError signals that every account is exhausted beyond the
// scheduler's wait threshold.
type RateLimitError struct {
	*ProxyError
	ResetAtMs int64
}

func NewRateLimitError(message string, resetAtMs int64) *RateLimitError {
	base := newBase(message, "RATE_LIMITED", true, map[string]interface{}{"resetAtMs": resetAtMs})
	return &RateLimitError{ProxyError: base, ResetAtMs: resetAtMs}
}

// NoAccountsError signals an empty or fully-invalid account store.
type NoAccountsError struct {
	*ProxyError
	AllRateLimited bool
}

func NewNoAccountsError(message string, allRateLimited bool) *NoAccountsError {
	if message == "" {
		message = "no accounts available"
	}
	base := newBase(message, "NO_ACCOUNTS", allRateLimited, map[string]interface{}{"allRateLimited": allRateLimited})
	return &NoAccountsError{ProxyError: base, AllRateLimited: allRateLimited}
}

// MaxRetriesError signals attempt exhaustion without a terminal classification.
type MaxRetriesError struct {
	*ProxyError
	Attempts int
}

func NewMaxRetriesError(message string, attempts int) *MaxRetriesError {
	if message == "" {
		message = "max retries exceeded"
	}
	base := newBase(message, "MAX_RETRIES", false, map[string]interface{}{"attempts": attempts})
	return &MaxRetriesError{ProxyError: base, Attempts: attempts}
}

// ServiceUnavailableError signals every endpoint/account returned 5xx/timeout.
type ServiceUnavailableError struct{ *ProxyError }

func NewServiceUnavailableError(message string) *ServiceUnavailableError {
	return &ServiceUnavailableError{newBase(message, "SERVICE_UNAVAILABLE", true, nil)}
}

// TimeoutError signals the upstream call exceeded its deadline.
type TimeoutError struct{ *ProxyError }

func NewTimeoutError(message string) *TimeoutError {
	return &TimeoutError{newBase(message, "TIMEOUT", true, nil)}
}

// EmptyResponseError signals a 200 upstream response with no usable content.
type EmptyResponseError struct{ *ProxyError }

func NewEmptyResponseError(message string) *EmptyResponseError {
	if message == "" {
		message = "no content received from upstream"
	}
	return &EmptyResponseError{newBase(message, "EMPTY_RESPONSE", true, nil)}
}

// IsEmptyResponseError reports whether err is (or wraps) an EmptyResponseError.
func IsEmptyResponseError(err error) bool {
	var target *EmptyResponseError
	return stderrors.As(err, &target)
}

// IsAuthError reports whether err is (or wraps) an AuthError, including the
// upstream's invalid_grant string form surfaced from the token exchange.
func IsAuthError(err error) bool {
	var authErr *AuthError
	if stderrors.As(err, &authErr) {
		return true
	}
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "invalid_grant") || strings.Contains(msg, "auth_invalid")
}

// HTTPStatus maps a taxonomy member to its wire status code (§7).
func HTTPStatus(err error) int {
	switch e := err.(type) {
	case *InvalidRequestError:
		return 400
	case *AuthError:
		return 401
	case *PermissionError:
		return 403
	case *RateLimitError:
		return 429
	case *NoAccountsError:
		if e.AllRateLimited {
			return 429
		}
		return 503
	case *MaxRetriesError:
		return 503
	case *ServiceUnavailableError:
		return 502
	case *TimeoutError:
		return 504
	case *EmptyResponseError:
		return 502
	default:
		return 500
	}
}

// AnthropicErrorType maps a taxonomy member to the `error.type` string the
// client sees in the Anthropic-shaped error payload.
func AnthropicErrorType(err error) string {
	switch err.(type) {
	case *InvalidRequestError:
		return "invalid_request_error"
	case *AuthError:
		return "authentication_error"
	case *PermissionError:
		return "permission_error"
	case *RateLimitError:
		return "rate_limit_error"
	case *NoAccountsError, *MaxRetriesError, *ServiceUnavailableError:
		return "overloaded_error"
	case *TimeoutError:
		return "timeout_error"
	default:
		return "api_error"
	}
}

// SanitizedMessage returns client-facing text for err: a fixed generic
// message for AuthError, PermissionError and unclassified errors, and the
// error's own message for the other taxonomy members. The text is not
// scanned or redacted, so an email, token, IP, file path or endpoint inside
// one of those own messages is returned as is. The unredacted error should
// still be logged internally by the caller.
func SanitizedMessage(err error) string {
	switch e := err.(type) {
	case *InvalidRequestError, *RateLimitError, *NoAccountsError, *MaxRetriesError,
		*ServiceUnavailableError, *TimeoutError, *EmptyResponseError:
		return e.Error()
	case *AuthError:
		return "authentication with the upstream provider failed"
	case *PermissionError:
		return "the upstream provider denied this request"
	default:
		return "an internal error occurred"
	}
}

// WithContext prefixes a plain error with additional context without losing
// the original for errors.Is/As-style inspection by the caller.
func WithContext(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}
