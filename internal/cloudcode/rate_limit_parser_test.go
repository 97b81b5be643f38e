package cloudcode

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseResetTimeRetryAfterSeconds(t *testing.T) {
	headers := http.Header{}
	headers.Set("Retry-After", "30")
	assert.Equal(t, int64(30000), ParseResetTime(headers, ""))
}

func TestParseResetTimeRatelimitResetHeader(t *testing.T) {
	headers := http.Header{}
	future := time.Now().Add(60 * time.Second).Unix()
	headers.Set("x-ratelimit-reset", strconv.FormatInt(future, 10))
	ms := ParseResetTime(headers, "")
	assert.Greater(t, ms, int64(50000))
}

func TestParseResetTimeZeroDelayGetsMinimum(t *testing.T) {
	headers := http.Header{}
	headers.Set("Retry-After", "0")
	assert.Equal(t, int64(500), ParseResetTime(headers, ""))
}

func TestParseResetTimeNoHeadersFallsBackToBody(t *testing.T) {
	headers := http.Header{}
	ms := ParseResetTime(headers, `{"quotaResetDelay": "45s"}`)
	assert.Equal(t, int64(45000), ms)
}

func TestParseResetTimeBodyQuotaDelayMs(t *testing.T) {
	ms := parseResetTimeFromBody(`quotaResetDelay: "1500ms"`)
	assert.Equal(t, int64(1500), ms)
}

func TestParseResetTimeBodyRetryAfterSeconds(t *testing.T) {
	ms := parseResetTimeFromBody(`Please retry after 12 seconds`)
	assert.Equal(t, int64(12000), ms)
}

func TestParseResetTimeBodyDurationHMS(t *testing.T) {
	ms := parseResetTimeFromBody(`quota will reset after 1h2m3s`)
	assert.Equal(t, int64((3600+120+3)*1000), ms)
}

func TestParseResetTimeBodyNoMatch(t *testing.T) {
	ms := parseResetTimeFromBody(`totally unrelated text`)
	assert.Equal(t, int64(-1), ms)
}

func TestParseRateLimitReasonByStatus(t *testing.T) {
	assert.Equal(t, RateLimitReasonModelCapacityExhausted, ParseRateLimitReason("", 529))
	assert.Equal(t, RateLimitReasonModelCapacityExhausted, ParseRateLimitReason("", 503))
	assert.Equal(t, RateLimitReasonServerError, ParseRateLimitReason("", 500))
}

func TestParseRateLimitReasonByBodyText(t *testing.T) {
	assert.Equal(t, RateLimitReasonQuotaExhausted, ParseRateLimitReason("RESOURCE_EXHAUSTED: daily limit reached", 429))
	assert.Equal(t, RateLimitReasonModelCapacityExhausted, ParseRateLimitReason("model is currently overloaded", 429))
	assert.Equal(t, RateLimitReasonRateLimitExceeded, ParseRateLimitReason("Too many requests, please slow down", 429))
	assert.Equal(t, RateLimitReasonUnknown, ParseRateLimitReason("something unexpected happened", 429))
}
