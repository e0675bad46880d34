// Package telemetry configures OpenTelemetry tracing for the service.
package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

type options struct {
	writer      io.Writer
	version     string
	environment string
	pretty      bool
	syncExport  bool
}

type Option func(*options)

// WithWriter sends exported spans to w instead of stdout.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.writer = w }
}

func WithServiceVersion(v string) Option {
	return func(o *options) { o.version = v }
}

func WithEnvironment(env string) Option {
	return func(o *options) { o.environment = env }
}

// WithPrettyPrint indents exported spans.
func WithPrettyPrint() Option {
	return func(o *options) { o.pretty = true }
}

// WithSyncExport exports each span as it ends instead of batching.
func WithSyncExport() Option {
	return func(o *options) { o.syncExport = true }
}

// InitTracer installs a global tracer provider exporting spans as JSON and
// the W3C trace-context propagator. The returned function flushes and stops
// the provider.
func InitTracer(serviceName string, logger *slog.Logger, opts ...Option) (func(context.Context) error, error) {
	o := options{writer: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	exportOpts := []stdouttrace.Option{stdouttrace.WithWriter(o.writer)}
	if o.pretty {
		exportOpts = append(exportOpts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(exportOpts...)
	if err != nil {
		return nil, err
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(serviceName)}
	if o.version != "" {
		attrs = append(attrs, semconv.ServiceVersion(o.version))
	}
	if o.environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(o.environment))
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes("", attrs...))
	if err != nil {
		return nil, err
	}

	export := sdktrace.WithBatcher(exporter)
	if o.syncExport {
		export = sdktrace.WithSyncer(exporter)
	}
	tp := sdktrace.NewTracerProvider(export, sdktrace.WithResource(res))

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("OpenTelemetry initialized", slog.String("service", serviceName))
	return tp.Shutdown, nil
}
