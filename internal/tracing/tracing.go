// Package tracing provides the OpenTelemetry tracer used around each Cloud
// Code dispatch attempt. A span covers one (account, model, endpoint) try
// and records its outcome; by default spans go to stdout, and an OTLP/HTTP
// exporter can be enabled in configuration for shipping to a collector.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerName identifies the dispatcher tracer in exported spans.
const TracerName = "cloudcode-gateway/dispatcher"

// Options configures the tracer provider.
type Options struct {
	// Enabled turns tracing on. When false, Init installs a no-op tracer.
	Enabled bool

	// ServiceName is recorded as the service.name resource attribute.
	ServiceName string

	// OTLPEndpoint, when non-empty, ships spans to an OTLP/HTTP collector at
	// this host:port instead of writing them to stdout.
	OTLPEndpoint string
}

// Init installs a global tracer provider per opts and returns a shutdown
// function that flushes and closes the exporter. Callers should defer the
// returned function for the lifetime of the process.
func Init(ctx context.Context, opts Options) (func(context.Context) error, error) {
	if !opts.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	var exporter sdktrace.SpanExporter
	var err error

	if opts.OTLPEndpoint != "" {
		exporter, err = otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(opts.OTLPEndpoint),
			otlptracehttp.WithInsecure(),
		)
	} else {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	if err != nil {
		return nil, err
	}

	serviceName := opts.ServiceName
	if serviceName == "" {
		serviceName = "cloudcode-gateway"
	}

	res, err := resource.Merge(resource.Default(),
		resource.NewSchemaless(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(provider)

	return provider.Shutdown, nil
}

// Tracer returns the global dispatcher tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// Attempt describes one Request Dispatcher attempt for span attribution.
type Attempt struct {
	Account  string
	Model    string
	Endpoint string
}

// StartAttempt opens a span for one dispatcher attempt. Callers must call
// End on the returned handle exactly once, passing the attempt's outcome.
func StartAttempt(ctx context.Context, a Attempt) (context.Context, *AttemptSpan) {
	ctx, span := Tracer().Start(ctx, "cloudcode.dispatch",
		trace.WithAttributes(
			semconv.PeerServiceKey.String(a.Endpoint),
		),
	)
	span.SetAttributes(
		attribute.String("cloudcode.account", a.Account),
		attribute.String("cloudcode.model", a.Model),
		attribute.String("cloudcode.endpoint", a.Endpoint),
	)
	return ctx, &AttemptSpan{span: span}
}

// AttemptSpan wraps a trace.Span so dispatcher code only has to supply the
// outcome, never juggle the otel API directly.
type AttemptSpan struct {
	span trace.Span
}

// End records the attempt's outcome and closes the span. err may be nil for
// a successful attempt.
func (a *AttemptSpan) End(outcome string, err error) {
	a.span.SetAttributes(attribute.String("cloudcode.outcome", outcome))
	if err != nil {
		a.span.RecordError(err)
	}
	a.span.End()
}
