// Package tracing wires OpenTelemetry spans into producer invocations, pool
// tasks and gRPC unary calls. It is optional: a nil *Config yields no-op
// spans, so components can call Start unconditionally.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/Keksclan/rawrcache/tracing"

// Attribute keys set on spans started by this module.
const (
	AttrComponent = attribute.Key("rawrcache.component")
	AttrName      = attribute.Key("rawrcache.name")
	AttrKey       = attribute.Key("rawrcache.key")
	AttrTaskID    = attribute.Key("rawrcache.task.id")
	AttrQueued    = attribute.Key("rawrcache.task.queued_ms")
)

// Config holds the OpenTelemetry configuration.
type Config struct {
	// TracerProvider supplies the Tracer used to create spans. When nil the
	// global otel.GetTracerProvider() is used.
	TracerProvider trace.TracerProvider

	// Propagators extracts trace context from incoming gRPC metadata.
	// When nil the global otel.GetTextMapPropagator() is used.
	Propagators propagation.TextMapPropagator
}

// Tracer returns the configured tracer. A nil Config returns a no-op tracer.
func (c *Config) Tracer() trace.Tracer {
	if c == nil {
		return noop.NewTracerProvider().Tracer(instrumentationName)
	}
	tp := c.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(instrumentationName)
}

func (c *Config) propagators() propagation.TextMapPropagator {
	if c != nil && c.Propagators != nil {
		return c.Propagators
	}
	return otel.GetTextMapPropagator()
}

// Start opens an internal span named name as a child of any span in ctx.
func (c *Config) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return c.Tracer().Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
