package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid request", NewInvalidRequestError("bad"), 400},
		{"auth", NewAuthError("nope", "a@b.com", "invalid_grant"), 401},
		{"permission", NewPermissionError("nope", "a@b.com"), 403},
		{"rate limit", NewRateLimitError("slow down", 1000), 429},
		{"no accounts, all rate limited", NewNoAccountsError("", true), 429},
		{"no accounts, not rate limited", NewNoAccountsError("", false), 503},
		{"max retries", NewMaxRetriesError("", 3), 503},
		{"service unavailable", NewServiceUnavailableError("down"), 502},
		{"timeout", NewTimeoutError("slow"), 504},
		{"empty response", NewEmptyResponseError(""), 502},
		{"unknown", fmt.Errorf("boom"), 500},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HTTPStatus(tc.err))
		})
	}
}

func TestAnthropicErrorType(t *testing.T) {
	assert.Equal(t, "invalid_request_error", AnthropicErrorType(NewInvalidRequestError("x")))
	assert.Equal(t, "authentication_error", AnthropicErrorType(NewAuthError("x", "a@b.com", "r")))
	assert.Equal(t, "permission_error", AnthropicErrorType(NewPermissionError("x", "a@b.com")))
	assert.Equal(t, "rate_limit_error", AnthropicErrorType(NewRateLimitError("x", 0)))
	assert.Equal(t, "overloaded_error", AnthropicErrorType(NewNoAccountsError("", false)))
	assert.Equal(t, "overloaded_error", AnthropicErrorType(NewMaxRetriesError("", 1)))
	assert.Equal(t, "overloaded_error", AnthropicErrorType(NewServiceUnavailableError("x")))
	assert.Equal(t, "timeout_error", AnthropicErrorType(NewTimeoutError("x")))
	assert.Equal(t, "api_error", AnthropicErrorType(fmt.Errorf("boom")))
}

func TestSanitizedMessage(t *testing.T) {
	assert.Equal(t, "bad request", SanitizedMessage(NewInvalidRequestError("bad request")))
	assert.Equal(t, "authentication with the upstream provider failed",
		SanitizedMessage(NewAuthError("token abc123 rejected for a@b.com", "a@b.com", "invalid_grant")))
	assert.Equal(t, "the upstream provider denied this request",
		SanitizedMessage(NewPermissionError("denied for /internal/path", "a@b.com")))
	assert.Equal(t, "an internal error occurred", SanitizedMessage(fmt.Errorf("raw internal detail")))
}

func TestIsAuthError(t *testing.T) {
	assert.True(t, IsAuthError(NewAuthError("x", "a@b.com", "invalid_grant")))
	assert.True(t, IsAuthError(fmt.Errorf("upstream said invalid_grant")))
	assert.True(t, IsAuthError(fmt.Errorf("AUTH_INVALID for account")))
	assert.False(t, IsAuthError(fmt.Errorf("rate limited")))
	assert.False(t, IsAuthError(nil))
}

func TestIsEmptyResponseError(t *testing.T) {
	assert.True(t, IsEmptyResponseError(NewEmptyResponseError("")))
	assert.False(t, IsEmptyResponseError(NewTimeoutError("x")))
}

func TestNoAccountsErrorDefaultMessage(t *testing.T) {
	err := NewNoAccountsError("", true)
	assert.Equal(t, "no accounts available", err.Message)
	assert.True(t, err.AllRateLimited)
}

func TestMaxRetriesErrorDefaultMessage(t *testing.T) {
	err := NewMaxRetriesError("", 5)
	assert.Equal(t, "max retries exceeded", err.Message)
	assert.Equal(t, 5, err.Attempts)
}

func TestProxyErrorToJSONIncludesMetadata(t *testing.T) {
	err := NewRateLimitError("slow down", 12345)
	payload := err.ToJSON()
	assert.Equal(t, "RATE_LIMITED", payload["code"])
	assert.Equal(t, "slow down", payload["message"])
	assert.Equal(t, true, payload["retryable"])
	assert.Equal(t, int64(12345), payload["resetAtMs"])
}

func TestProxyErrorMarshalJSON(t *testing.T) {
	err := NewInvalidRequestError("bad body")
	data, marshalErr := err.MarshalJSON()
	require.NoError(t, marshalErr)
	assert.Contains(t, string(data), `"code":"INVALID_REQUEST"`)
	assert.Contains(t, string(data), `"message":"bad body"`)
}

func TestWithContext(t *testing.T) {
	assert.Nil(t, WithContext(nil, "loading config"))

	wrapped := WithContext(fmt.Errorf("boom"), "loading config")
	require.Error(t, wrapped)
	assert.Equal(t, "loading config: boom", wrapped.Error())
}
