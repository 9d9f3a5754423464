package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Disabled(t *testing.T) {
	cfg := NewDefaultConfig()
	require.False(t, cfg.Enabled)

	tel, err := New(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, tel)

	assert.False(t, tel.IsEnabled())
	assert.True(t, tel.Health().Healthy)
	assert.False(t, tel.Health().Degraded)

	// Disabled telemetry hands out usable no-op instruments.
	tracer := tel.Tracer("sdlcd.test")
	_, span := tracer.Start(context.Background(), "noop")
	span.End()

	meter := tel.Meter("sdlcd.test")
	counter, err := meter.Int64Counter("sdlcd.test.counter")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Endpoint = ""

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint is required")
}

func TestTelemetry_NilReceiverSafe(t *testing.T) {
	var tel *Telemetry

	assert.NotNil(t, tel.Tracer("x"))
	assert.NotNil(t, tel.Meter("x"))
	assert.Nil(t, tel.LoggerProvider())
	assert.False(t, tel.IsEnabled())
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.NoError(t, tel.ForceFlush(context.Background()))
	assert.True(t, tel.Health().Degraded)
}

func TestTestTelemetry_RecordsSpans(t *testing.T) {
	tt := NewTestTelemetry()

	tracer := tt.Tracer("sdlcd.test")
	_, span := tracer.Start(context.Background(), "pipeline.execute")
	span.End()

	tt.AssertSpanExists(t, "pipeline.execute")
	assert.Nil(t, tt.SpanByName("does-not-exist"))
}
