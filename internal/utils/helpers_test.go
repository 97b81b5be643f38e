package utils

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		ms   int64
		want string
	}{
		{45_000, "45s"},
		{5*60_000 + 30_000, "5m30s"},
		{time.Hour.Milliseconds() + 23*60_000 + 45_000, "1h23m45s"},
		{0, "0s"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FormatDuration(tc.ms))
	}
}

func TestFormatDurationFromTime(t *testing.T) {
	assert.Equal(t, "1m30s", FormatDurationFromTime(90*time.Second))
}

func TestSleepRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Sleep(ctx, 5000)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSleepCompletesNormally(t *testing.T) {
	err := Sleep(context.Background(), 1)
	assert.NoError(t, err)
}

func TestIsNetworkError(t *testing.T) {
	assert.True(t, IsNetworkError(fmt.Errorf("dial tcp: connection refused")))
	assert.True(t, IsNetworkError(fmt.Errorf("context deadline exceeded: i/o timeout")))
	assert.True(t, IsNetworkError(fmt.Errorf("unexpected EOF")))
	assert.False(t, IsNetworkError(fmt.Errorf("invalid_request_error")))
	assert.False(t, IsNetworkError(nil))
}

func TestGenerateJitterBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		j := GenerateJitter(1000)
		assert.GreaterOrEqual(t, j, int64(-500))
		assert.Less(t, j, int64(500))
	}
}

func TestGenerateJitterPositiveBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		j := GenerateJitterPositive(1000)
		assert.GreaterOrEqual(t, j, int64(0))
		assert.Less(t, j, int64(1000))
	}
}

func TestMinMax(t *testing.T) {
	assert.Equal(t, int64(3), Min(3, 5))
	assert.Equal(t, int64(5), Max(3, 5))
	assert.Equal(t, 3, MinInt(3, 5))
	assert.Equal(t, 5, MaxInt(3, 5))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, int64(0), Clamp(-5, 0, 10))
	assert.Equal(t, int64(10), Clamp(15, 0, 10))
	assert.Equal(t, int64(5), Clamp(5, 0, 10))
}

func TestClampFloat(t *testing.T) {
	assert.Equal(t, 0.0, ClampFloat(-0.5, 0, 1))
	assert.Equal(t, 1.0, ClampFloat(1.5, 0, 1))
	assert.Equal(t, 0.5, ClampFloat(0.5, 0, 1))
}

func TestSafeAccessors(t *testing.T) {
	assert.Equal(t, "", SafeString(nil))
	assert.Equal(t, "x", SafeString(StringPtr("x")))
	assert.Equal(t, int64(0), SafeInt64(nil))
	assert.Equal(t, int64(7), SafeInt64(Int64Ptr(7)))
	assert.Equal(t, 0.0, SafeFloat64(nil))
	assert.Equal(t, 1.5, SafeFloat64(Float64Ptr(1.5)))
	assert.False(t, SafeBool(nil))
	assert.True(t, SafeBool(BoolPtr(true)))
}

func TestPtr(t *testing.T) {
	v := Ptr(42)
	assert.Equal(t, 42, *v)
}

func TestCoalesceString(t *testing.T) {
	assert.Equal(t, "b", CoalesceString("", "b", "c"))
	assert.Equal(t, "", CoalesceString("", ""))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "hello", TruncateString("hello", 10))
	assert.Equal(t, "hel...", TruncateString("hello", 3))
}

func TestContainsAny(t *testing.T) {
	assert.True(t, ContainsAny("hello world", "xyz", "world"))
	assert.False(t, ContainsAny("hello world", "xyz", "abc"))
}

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "j***@example.com", MaskEmail("jsmith@example.com"))
	assert.Equal(t, "a***@x.com", MaskEmail("a@x.com"))
	assert.Equal(t, "***", MaskEmail("not-an-email"))
}

func TestFormatPercent(t *testing.T) {
	assert.Equal(t, "75%", FormatPercent(0.75))
	assert.Equal(t, "0%", FormatPercent(0))
	assert.Equal(t, "100%", FormatPercent(1))
}

func TestParseISORoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	s := now.Format(time.RFC3339)
	parsed, err := ParseISO(s)
	assert.NoError(t, err)
	assert.True(t, now.Equal(parsed))
}
