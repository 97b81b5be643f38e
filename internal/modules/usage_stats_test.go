package modules

import (
	"net/http/httptest"
	"testing"

	"github.com/relaygw/cloudcode-gateway/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetFamily(t *testing.T) {
	assert.Equal(t, "claude", GetFamily("claude-opus-4-5"))
	assert.Equal(t, "claude", GetFamily("CLAUDE-Sonnet-4"))
	assert.Equal(t, "gemini", GetFamily("gemini-2.5-pro"))
	assert.Equal(t, "other", GetFamily("gpt-4o"))
}

func TestGetShortName(t *testing.T) {
	assert.Equal(t, "opus-4-5", GetShortName("claude-opus-4-5", "claude"))
	assert.Equal(t, "2.5-pro", GetShortName("gemini-2.5-pro", "gemini"))
	assert.Equal(t, "gpt-4o", GetShortName("gpt-4o", "other"))
	// No family prefix present: returned unchanged.
	assert.Equal(t, "weird-model", GetShortName("weird-model", "claude"))
}

func TestUsageStatsTrackRecordsModelUsageMetric(t *testing.T) {
	stats := NewUsageStats()
	stats.Track("claude-opus-4-5-track-test")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `cloudcode_gateway_model_usage_total{family="claude",model="opus-4-5-track-test"} 1`)
}
