// Package observability exports pipeline traces over OTLP HTTP.
//
// Genkit instruments every model call and flow with OpenTelemetry spans.
// This package attaches a batch exporter to Genkit's TracerProvider so
// those spans reach whatever collector sits at the configured endpoint
// (an OTel Collector, Jaeger, or a vendor agent speaking OTLP).
//
// # Configuration
//
// Environment variables (optional):
//   - HELPDECK_OTLP_ENDPOINT: collector endpoint (default: localhost:4318)
//   - HELPDECK_ENVIRONMENT: deployment environment tag (default: dev)
//   - HELPDECK_SERVICE_NAME: service name shown in the trace backend
//
// Config file (~/.helpdeck/config.yaml):
//
//	otlp_endpoint: "localhost:4318"
//	environment: "dev"
//	service_name: "helpdeck"
//	trace_enabled: true
package observability

import (
	"context"
	"log/slog"
	"os"

	"github.com/firebase/genkit/go/core/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config for OTLP trace export.
type Config struct {
	// Endpoint is the OTLP HTTP collector endpoint (default: localhost:4318)
	Endpoint string
	// Environment is the deployment environment (dev, staging, prod)
	Environment string
	// ServiceName is the service name attached to exported spans
	ServiceName string
}

// DefaultEndpoint is the default OTLP HTTP collector endpoint.
const DefaultEndpoint = "localhost:4318"

// Setup registers an OTLP HTTP exporter with Genkit's TracerProvider.
// Spans from model calls and pipeline flows are batched and shipped to
// the collector at cfg.Endpoint.
//
// Returns a shutdown function that flushes pending spans.
// If Endpoint is empty, uses DefaultEndpoint (localhost:4318).
func Setup(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	// Genkit's TracerProvider reads standard OTEL_* variables, so the
	// service identity has to be set before the first span is created.
	if cfg.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.ServiceName)
	}
	if cfg.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+cfg.Environment)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(), // collector is expected to sit on the local network
	)
	if err != nil {
		slog.Warn("failed to create OTLP exporter, tracing disabled", "error", err)
		return func(context.Context) error { return nil }, nil
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	// Share Genkit's provider globally so spans created outside Genkit
	// (HTTP handlers, background workers) land in the same export path.
	otel.SetTracerProvider(tracing.TracerProvider())

	slog.Debug("trace export enabled",
		"endpoint", endpoint,
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)

	return tracing.TracerProvider().Shutdown, nil
}
