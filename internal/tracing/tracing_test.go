package tracing

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func restoreGlobals(t *testing.T) {
	t.Helper()
	provider, propagator := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(provider)
		otel.SetTextMapPropagator(propagator)
	})
}

func TestInitDisabled(t *testing.T) {
	restoreGlobals(t)
	sentinel := noop.NewTracerProvider()
	otel.SetTracerProvider(sentinel)

	shutdown, err := Init(context.Background(), domain.TracingConfig{Enabled: false})
	require.NoError(t, err)
	assert.Equal(t, sentinel, otel.GetTracerProvider())
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitEnabled(t *testing.T) {
	restoreGlobals(t)
	otel.SetTracerProvider(noop.NewTracerProvider())

	shutdown, err := Init(context.Background(), domain.TracingConfig{
		Enabled:     true,
		ServiceName: "harrier-test",
		Endpoint:    "http://127.0.0.1:4318",
	})
	require.NoError(t, err)
	assert.IsType(t, &sdktrace.TracerProvider{}, otel.GetTracerProvider())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, shutdown(ctx))
}
