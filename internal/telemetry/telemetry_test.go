package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/opensource-finance/ringwatch/internal/domain"
)

func restoreProvider(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
}

func TestSetupDisabled(t *testing.T) {
	restoreProvider(t)

	shutdown, err := Setup(context.Background(), domain.TracingConfig{Enabled: false}, "test")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, span := otel.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	assert.False(t, span.IsRecording())
}

func TestSetupEnabled(t *testing.T) {
	restoreProvider(t)

	cfg := domain.TracingConfig{
		Enabled:     true,
		ServiceName: "ringwatch-test",
		Endpoint:    "127.0.0.1:4317",
		Insecure:    true,
		SampleRatio: 1,
	}
	shutdown, err := Setup(context.Background(), cfg, "test")
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "op")
	assert.True(t, span.IsRecording())
	assert.True(t, span.SpanContext().IsSampled())
	span.End()

	// No collector listens; only make sure shutdown returns.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = shutdown(ctx)
}

func TestSampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  sdktrace.Sampler
	}{
		{1, sdktrace.ParentBased(sdktrace.AlwaysSample())},
		{2, sdktrace.ParentBased(sdktrace.AlwaysSample())},
		{0, sdktrace.ParentBased(sdktrace.NeverSample())},
		{0.25, sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.25))},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want.Description(), Sampler(tt.ratio).Description(), "ratio %v", tt.ratio)
	}
}

func TestResource(t *testing.T) {
	res, err := Resource("", "1.2.3")
	require.NoError(t, err)

	attrs := map[string]string{}
	for _, kv := range res.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "ringwatch", attrs["service.name"])
	assert.Equal(t, "1.2.3", attrs["service.version"])
}
