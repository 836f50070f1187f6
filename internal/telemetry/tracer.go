// Package telemetry wires the OpenTelemetry tracer provider used to trace
// upstream tool executions, and the W3C trace-context propagator that
// carries span context on their outbound HTTP headers.
//
// Grounded on the tracer-provider bootstrap idiom in the retrieval pack's o11y
// package (InitTracer: resource merge, sampler, exporter, shutdown func),
// simplified to the stdout exporter since this gateway has no OTLP collector
// dependency to exercise, and trimmed of the semconv dependency the pack
// doesn't otherwise pull in.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// InitTracer installs a global tracer provider for serviceName and the
// W3C trace-context propagator, and returns a Tracer plus a shutdown func
// to flush pending spans on exit.
func InitTracer(serviceName string) (trace.Tracer, func(context.Context) error, error) {
	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Tracer(serviceName), tp.Shutdown, nil
}
