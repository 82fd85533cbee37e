// Package telemetry wires the registry's transition engine to OpenTelemetry
// tracing, emitting one span per transition.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/quadgate/fsmregistry/pkg/fsm"
)

// TracerProvider wraps an sdktrace.TracerProvider configured for the
// registry, exporting spans to stdout by default. A production deployment
// substitutes a different exporter by registering its own
// sdktrace.SpanExporter with NewProvider.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewProvider builds a TracerProvider named serviceName, exporting through
// exporter (stdouttrace.New() by default when exporter is nil).
func NewProvider(serviceName string, exporter sdktrace.SpanExporter) (*TracerProvider, error) {
	if exporter == nil {
		var err error
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("telemetry: create stdout exporter: %w", err)
		}
	}

	res, err := resource.Merge(resource.Default(),
		resource.NewSchemaless(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return &TracerProvider{provider: tp, tracer: tp.Tracer("fsmregistry")}, nil
}

// Shutdown flushes and stops the tracer provider.
func (p *TracerProvider) Shutdown(ctx context.Context) error {
	return p.provider.Shutdown(ctx)
}

// Recorder wraps another fsm.Recorder, opening a span around the act of
// recording so transition tracing shows up even if the actual persistence
// already completed by the time the span starts (the span measures
// recording latency, not the whole transition).
type Recorder struct {
	next   fsm.Recorder
	tracer trace.Tracer
}

// NewRecorder wraps next with span creation from tp.
func NewRecorder(tp *TracerProvider, next fsm.Recorder) *Recorder {
	return &Recorder{next: next, tracer: tp.tracer}
}

func (r *Recorder) Record(ctx context.Context, rec fsm.TransitionRecord) error {
	ctx, span := r.tracer.Start(ctx, "fsm.transition",
		trace.WithAttributes(
			attribute.String("fsm.machine_id", string(rec.MachineID)),
			attribute.String("fsm.machine_type", rec.MachineType),
			attribute.String("fsm.from_state", string(rec.FromState)),
			attribute.String("fsm.to_state", string(rec.ToState)),
			attribute.String("fsm.event", rec.EventName),
			attribute.Bool("fsm.final", rec.Final),
		))
	defer span.End()

	err := r.next.Record(ctx, rec)
	if err != nil {
		span.RecordError(err)
	}
	return err
}
