package tracing

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDisabledInstallsNoopTracer(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))

	// A no-op tracer still produces a usable, non-recording span.
	ctx, span := StartAttempt(context.Background(), Attempt{
		Account:  "a@example.com",
		Model:    "claude-opus-4-5",
		Endpoint: "https://cloudcode.googleapis.com",
	})
	require.NotNil(t, ctx)
	span.End("success", nil)
}

func TestInitEnabledWithStdoutExporter(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{
		Enabled:     true,
		ServiceName: "cloudcode-gateway-test",
	})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	defer func() { _ = shutdown(context.Background()) }()

	_, span := StartAttempt(context.Background(), Attempt{
		Account:  "a@example.com",
		Model:    "claude-opus-4-5",
		Endpoint: "https://cloudcode.googleapis.com",
	})
	span.End("success", nil)
}

func TestStartAttemptEndRecordsErrorWithoutPanicking(t *testing.T) {
	_, err := Init(context.Background(), Options{Enabled: false})
	require.NoError(t, err)

	_, span := StartAttempt(context.Background(), Attempt{
		Account:  "a@example.com",
		Model:    "claude-opus-4-5",
		Endpoint: "https://cloudcode.googleapis.com",
	})
	span.End("network_error", fmt.Errorf("connection reset"))
}

func TestTracerReturnsNonNilTracer(t *testing.T) {
	assert.NotNil(t, Tracer())
}
