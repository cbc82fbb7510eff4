package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpan(t *testing.T) {
	t.Run("no tracer is a no-op", func(t *testing.T) {
		SetTracer(nil)
		ctx, span := StartSpan(context.Background(), "noop")
		defer span.End()

		assert.Nil(t, GetActiveSpan(ctx))
		assert.Empty(t, GetTraceID(ctx))
		assert.Empty(t, GetTraceParent(ctx))
	})

	t.Run("records spans and errors", func(t *testing.T) {
		recorder := tracetest.NewSpanRecorder()
		provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
		SetTracer(provider.Tracer("test"))
		defer SetTracer(nil)

		ctx, span := StartSpan(context.Background(), "Engine.CreateEntity")
		SetEntityAttributes(span, 1, 2, 3)
		RecordError(span, errors.New("boom"))
		assert.NotEmpty(t, GetTraceID(ctx))
		assert.NotEmpty(t, GetSpanID(ctx))
		assert.NotEmpty(t, GetTraceParent(ctx))
		span.End()

		ended := recorder.Ended()
		if assert.Len(t, ended, 1) {
			assert.Equal(t, "Engine.CreateEntity", ended[0].Name())
			assert.Len(t, ended[0].Events(), 1)
		}
	})
}

func TestNewExporter(t *testing.T) {
	t.Run("http", func(t *testing.T) {
		exporter, err := NewExporter(context.Background(), ExporterConfig{Endpoint: "localhost:4318", Protocol: "http", Insecure: true})
		assert.NoError(t, err)
		assert.NoError(t, exporter.Shutdown(context.Background()))
	})

	t.Run("unknown protocol", func(t *testing.T) {
		_, err := NewExporter(context.Background(), ExporterConfig{Protocol: "udp"})
		assert.Error(t, err)
	})
}
