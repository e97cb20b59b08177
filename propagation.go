/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package llmobs

import (
	"context"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel/propagation"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// ParentIDHeader carries the logical parent span id across process
// boundaries, alongside the physical trace context written by the W3C
// propagator. The logical parent stitches multi-service agent workflows
// independently of the physical parent.
const ParentIDHeader = "x-llmobs-parent-id"

// physicalPropagator injects/extracts the physical trace context. The W3C
// traceparent format is the wire contract of the underlying tracer.
var physicalPropagator = propagation.TraceContext{}

// InjectHeaders writes the distributed context of span (or the active span
// when span is nil) into the carrier: the logical parent id under
// ParentIDHeader, then the physical trace context via the underlying
// propagator. Failures are logged and leave the carrier unchanged.
func (s *Service) InjectHeaders(ctx context.Context, carrier propagation.TextMapCarrier, span *Span) {
	log := clog.FromContext(ctx)
	if !s.isEnabled() {
		log.Warn("InjectHeaders called while LLM observability is disabled; distributed context will not be injected")
		return
	}
	if carrier == nil {
		log.Warn("A carrier is required to inject distributed headers")
		return
	}
	if span == nil {
		active, ok := SpanFromContext(ctx)
		if !ok {
			log.Warn("No span provided and no active span found; distributed context will not be injected")
			return
		}
		span = active
	}

	carrier.Set(ParentIDHeader, nearestKnownAncestorID(span))
	physicalPropagator.Inject(oteltrace.ContextWithSpanContext(ctx, span.physical.Context()), carrier)
}

// ActivateHeaders extracts a distributed context from the carrier and
// returns a context under which the next span started becomes the remote
// trace's continuation. Activation is aborted (ctx returned unchanged) when
// the physical trace or span id is missing; a missing logical parent id only
// degrades linkage and is logged without aborting.
func (s *Service) ActivateHeaders(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	log := clog.FromContext(ctx)
	if !s.isEnabled() {
		log.Warn("ActivateHeaders called while LLM observability is disabled; distributed context will not be activated")
		return ctx
	}
	if carrier == nil {
		log.Warn("A carrier is required to activate distributed headers")
		return ctx
	}

	extracted := physicalPropagator.Extract(ctx, carrier)
	sc := oteltrace.SpanContextFromContext(extracted)
	if !sc.HasTraceID() || !sc.HasSpanID() {
		log.Warn("Failed to extract trace id or span id from request headers; distributed context will not be activated")
		return ctx
	}

	parentID := carrier.Get(ParentIDHeader)
	if parentID == "" {
		log.Warn("No logical parent id found in request headers; spans will be linked to the physical parent only")
	}

	ctx = oteltrace.ContextWithRemoteSpanContext(ctx, sc)
	if parentID != "" {
		ctx = contextWithPropagatedParent(ctx, parentID)
	}
	return ctx
}
