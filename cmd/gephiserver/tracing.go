package main

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/nunnr/gephiserver/internal/config"
	"github.com/nunnr/gephiserver/internal/engine"
)

// newTracing builds the tracer provider selected by exporter and the
// scheduler option that routes render spans to it. With "none" it returns
// no option and a no-op shutdown, leaving the global provider in place.
func newTracing(exporter string, w io.Writer) ([]engine.Option, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	switch exporter {
	case config.TraceExporterNone:
		return nil, noop, nil
	case config.TraceExporterStdout:
	default:
		return nil, noop, errors.Newf("unknown trace exporter %q", exporter)
	}

	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, noop, errors.Wrap(err, "create stdout trace exporter")
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", "gephiserver"),
		)),
	)
	otel.SetTracerProvider(tp)

	return []engine.Option{engine.WithTracer(tp.Tracer(engine.TracerName))}, tp.Shutdown, nil
}
