package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSuccessIncrementsRequestsTotal(t *testing.T) {
	RecordSuccess("acct-success@example.com", "claude-opus-4-5")

	body := scrapeMetrics(t)
	assert.Contains(t, body, `cloudcode_gateway_requests_total{account="acct-success@example.com",model="claude-opus-4-5",outcome="success"} 1`)
}

func TestRecordRateLimitIncrementsBothCounters(t *testing.T) {
	RecordRateLimit("acct-rl@example.com", "claude-opus-4-5")

	body := scrapeMetrics(t)
	assert.Contains(t, body, `cloudcode_gateway_rate_limits_total{account="acct-rl@example.com",model="claude-opus-4-5"} 1`)
	assert.Contains(t, body, `cloudcode_gateway_requests_total{account="acct-rl@example.com",model="claude-opus-4-5",outcome="rate_limited"} 1`)
}

func TestRecordFailureIncrementsRequestsAndRetries(t *testing.T) {
	RecordFailure("acct-fail@example.com", "claude-opus-4-5")

	body := scrapeMetrics(t)
	assert.Contains(t, body, `cloudcode_gateway_requests_total{account="acct-fail@example.com",model="claude-opus-4-5",outcome="failure"} 1`)
	assert.Contains(t, body, `cloudcode_gateway_retries_total{account="acct-fail@example.com",model="claude-opus-4-5"} 1`)
}

func TestObserveUpstreamLatencySeconds(t *testing.T) {
	ObserveUpstreamLatencySeconds("claude-opus-4-5-latency-test", 0.25)

	body := scrapeMetrics(t)
	assert.Contains(t, body, `cloudcode_gateway_upstream_latency_seconds_count{model="claude-opus-4-5-latency-test"} 1`)
}

func TestRecordModelUsage(t *testing.T) {
	RecordModelUsage("claude", "opus-4-5-usage-test")

	body := scrapeMetrics(t)
	assert.Contains(t, body, `cloudcode_gateway_model_usage_total{family="claude",model="opus-4-5-usage-test"} 1`)
}

func scrapeMetrics(t *testing.T) string {
	t.Helper()
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
	return rec.Body.String()
}
