package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ExporterConfig selects the OTLP collector the engine ships spans to.
type ExporterConfig struct {
	// Endpoint is host:port, 4317 for grpc and 4318 for http by convention.
	Endpoint string
	// Protocol is grpc or http.
	Protocol string
	Insecure bool
	Timeout  time.Duration
}

// NewExporter builds an OTLP span exporter for NewProvider.
func NewExporter(ctx context.Context, config ExporterConfig) (*otlptrace.Exporter, error) {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	switch config.Protocol {
	case "grpc", "":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(config.Endpoint),
			otlptracegrpc.WithTimeout(config.Timeout),
		}
		if config.Insecure {
			opts = append(opts,
				otlptracegrpc.WithInsecure(),
				otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			)
		}
		return otlptracegrpc.New(ctx, opts...)
	case "http":
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(config.Endpoint),
			otlptracehttp.WithTimeout(config.Timeout),
		}
		if config.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", config.Protocol)
	}
}
