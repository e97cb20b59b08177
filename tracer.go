/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package llmobs

import (
	"context"
	"crypto/rand"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const instrumentationName = "chainguard.dev/llmobs"

// Tracer abstracts the underlying generic tracer. The default implementation
// delegates to the global OpenTelemetry tracer provider; tests substitute a
// deterministic implementation.
type Tracer interface {
	// StartSpan starts a physical span. Parentage is derived from ctx, which
	// may carry either a local active span or a remote span context installed
	// by ActivateHeaders.
	StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, PhysicalSpan)
}

// PhysicalSpan is the handle on the underlying span. The overlay keeps its
// own tag map; the physical span only receives mirrored attributes and the
// end timestamp.
type PhysicalSpan interface {
	// Context returns the span's identity. It is always valid, even when no
	// tracer SDK is installed.
	Context() oteltrace.SpanContext
	// SetAttributes mirrors key tags onto the physical span.
	SetAttributes(attrs ...attribute.KeyValue)
	// End finishes the physical span.
	End()
}

// otelTracer is the default Tracer backed by the global OpenTelemetry
// provider.
type otelTracer struct{}

// NewOTelTracer returns the default Tracer, which starts spans through the
// global OpenTelemetry tracer provider.
func NewOTelTracer() Tracer {
	return otelTracer{}
}

func (otelTracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, PhysicalSpan) {
	tr := otel.Tracer(instrumentationName,
		oteltrace.WithInstrumentationVersion(Version))
	ctx, span := tr.Start(ctx, name, oteltrace.WithAttributes(attrs...))

	sc := span.SpanContext()
	if !sc.IsValid() {
		// No SDK installed: the no-op tracer hands back all-zero identifiers.
		// Span and trace ids must still be usable for export and evaluation
		// submission, so synthesize them.
		sc = newSpanContext(oteltrace.SpanContextFromContext(ctx))
	}
	return ctx, &otelSpan{span: span, sc: sc}
}

type otelSpan struct {
	span oteltrace.Span
	sc   oteltrace.SpanContext
}

func (s *otelSpan) Context() oteltrace.SpanContext            { return s.sc }
func (s *otelSpan) SetAttributes(attrs ...attribute.KeyValue) { s.span.SetAttributes(attrs...) }
func (s *otelSpan) End()                                      { s.span.End() }

// newSpanContext builds a sampled span context with a fresh span id,
// inheriting the trace id from parent when it has one.
func newSpanContext(parent oteltrace.SpanContext) oteltrace.SpanContext {
	var traceID oteltrace.TraceID
	if parent.HasTraceID() {
		traceID = parent.TraceID()
	} else {
		randomBytes(traceID[:])
	}
	var spanID oteltrace.SpanID
	randomBytes(spanID[:])
	return oteltrace.NewSpanContext(oteltrace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: oteltrace.FlagsSampled,
	})
}

func randomBytes(b []byte) {
	// crypto/rand.Read does not fail on supported platforms.
	_, _ = rand.Read(b)
}
