// Package tracing builds the OpenTelemetry tracer provider for node spans.
package tracing

import (
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Exporters accepted by NewProvider.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// ServiceName is recorded as service.name on every span.
const ServiceName = "icee"

// NewProvider returns a tracer provider for the named exporter. "none" keeps
// spans in process without exporting them; "stdout" writes each finished span
// to w as JSON. Callers must Shutdown the provider to flush pending spans.
func NewProvider(ctx context.Context, exporter string, w io.Writer) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", ServiceName),
	))
	if err != nil {
		return nil, errors.Wrap(err, "otel resource")
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	switch strings.ToLower(strings.TrimSpace(exporter)) {
	case "", ExporterNone:
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, errors.Wrap(err, "otel stdout exporter")
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	default:
		return nil, errors.Errorf("unknown trace exporter %q", exporter)
	}
	return sdktrace.NewTracerProvider(opts...), nil
}
