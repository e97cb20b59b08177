/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package llmobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel/attribute"
)

// Kind is the closed set of operation kinds a span can carry.
type Kind string

const (
	KindUnspecified Kind = ""
	KindLLM         Kind = "llm"
	KindTool        Kind = "tool"
	KindTask        Kind = "task"
	KindAgent       Kind = "agent"
	KindWorkflow    Kind = "workflow"
	KindEmbedding   Kind = "embedding"
	KindRetrieval   Kind = "retrieval"
)

var knownKinds = map[Kind]struct{}{
	KindLLM:       {},
	KindTool:      {},
	KindTask:      {},
	KindAgent:     {},
	KindWorkflow:  {},
	KindEmbedding: {},
	KindRetrieval: {},
}

// ParseKind converts a kind string into a Kind, rejecting unknown values.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := knownKinds[k]; !ok {
		return KindUnspecified, fmt.Errorf("unknown span kind %q", s)
	}
	return k, nil
}

// Known reports whether k is a recognized operation kind.
func (k Kind) Known() bool {
	_, ok := knownKinds[k]
	return ok
}

func (k Kind) String() string {
	if k == KindUnspecified {
		return "unspecified"
	}
	return string(k)
}

// Tag keys of the overlay span tag map. Structured values are stored as
// serialized JSON blobs under these keys.
const (
	tagSpanKind        = "span.kind"
	tagModelName       = "model_name"
	tagModelProvider   = "model_provider"
	tagSessionID       = "session_id"
	tagMLApp           = "ml_app"
	tagParentID        = "parent_id"
	tagPropagatedID    = "propagated_parent_id"
	tagInputMessages   = "input.messages"
	tagOutputMessages  = "output.messages"
	tagInputDocuments  = "input.documents"
	tagOutputDocuments = "output.documents"
	tagInputValue      = "input.value"
	tagOutputValue     = "output.value"
	tagInputPrompt     = "input.prompt"
	tagInputParameters = "input.parameters"
	tagMetadata        = "metadata"
	tagMetrics         = "metrics"
	tagTags            = "tags"
)

// rootParentID marks a span with no logical parent.
const rootParentID = "undefined"

// defaultModel is stamped by the LLM and Embedding helpers when the caller
// does not name a model.
const defaultModel = "custom"

// Span decorates a physical span with LLM observability semantics: an
// operation kind, a tag map of validated payloads, and session/application/
// logical-parent linkage. Spans are created by Service.StartSpan and finished
// exactly once with Finish.
type Span struct {
	svc      *Service
	kind     Kind
	parent   *Span
	physical PhysicalSpan
	start    time.Time

	mu       sync.Mutex
	name     string
	meta     map[string]string
	finished bool
}

// SpanOption configures a span at start time.
type SpanOption func(*spanConfig)

type spanConfig struct {
	name          string
	sessionID     string
	modelName     string
	modelProvider string
	mlApp         string
}

// WithSpanName overrides the span name. Defaults to the kind string.
func WithSpanName(name string) SpanOption {
	return func(c *spanConfig) { c.name = name }
}

// WithSessionID sets the user session the span belongs to. When absent the
// session is inherited from the nearest ancestor that carries one.
func WithSessionID(id string) SpanOption {
	return func(c *spanConfig) { c.sessionID = id }
}

// WithModelName names the invoked model. Only meaningful for llm and
// embedding spans.
func WithModelName(name string) SpanOption {
	return func(c *spanConfig) { c.modelName = name }
}

// WithModelProvider names the model provider (e.g. openai, bedrock).
func WithModelProvider(provider string) SpanOption {
	return func(c *spanConfig) { c.modelProvider = provider }
}

// WithMLApp overrides the ML application name for this span. When absent it
// is inherited from the nearest ancestor, then the service default.
func WithMLApp(app string) SpanOption {
	return func(c *spanConfig) { c.mlApp = app }
}

// StartSpan creates a typed span of the given kind. The returned context
// carries the span as the active span; child spans started under it inherit
// session, application, and logical-parent linkage from it.
//
// StartSpan proceeds even when the service is not enabled: the span is still
// a valid physical span, it just will not be delivered.
func (s *Service) StartSpan(ctx context.Context, kind Kind, opts ...SpanOption) (context.Context, *Span) {
	log := clog.FromContext(ctx)
	if !s.isEnabled() {
		log.Warn("Span started while LLM observability is disabled; it will not be delivered to the collector")
	}
	if !kind.Known() {
		log.With("kind", string(kind)).Warn("Unknown span kind; starting span as unspecified")
		kind = KindUnspecified
	}

	var cfg spanConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.name == "" {
		cfg.name = kind.String()
	}

	parent, _ := SpanFromContext(ctx)
	ctx, physical := s.tracer.StartSpan(ctx, cfg.name,
		attribute.String(tagSpanKind, kind.String()))

	span := &Span{
		svc:      s,
		kind:     kind,
		parent:   parent,
		physical: physical,
		start:    time.Now(),
		name:     cfg.name,
		meta:     make(map[string]string),
	}
	span.meta[tagSpanKind] = kind.String()

	if cfg.modelName != "" {
		span.meta[tagModelName] = cfg.modelName
	}
	if cfg.modelProvider != "" {
		span.meta[tagModelProvider] = cfg.modelProvider
	}

	if sessionID := resolveSessionID(cfg.sessionID, parent); sessionID != "" {
		span.meta[tagSessionID] = sessionID
	}
	if mlApp := s.resolveMLApp(cfg.mlApp, parent); mlApp != "" {
		span.meta[tagMLApp] = mlApp
	}

	// Two-path logical parent resolution. A local parent chain wins when
	// present; otherwise a parent id propagated in from ActivateHeaders is
	// authoritative and local inference is skipped to avoid racing with it.
	if parent != nil {
		span.meta[tagParentID] = nearestKnownAncestorID(parent)
	} else if propagated := propagatedParentFromContext(ctx); propagated != "" {
		span.meta[tagPropagatedID] = propagated
	} else {
		span.meta[tagParentID] = rootParentID
	}

	spansStarted.WithLabelValues(kind.String()).Inc()
	s.runStartHooks(ctx, span)
	return ContextWithSpan(ctx, span), span
}

// LLM starts a span for a call to a large language model. Model name and
// provider default to "custom" when not supplied.
func (s *Service) LLM(ctx context.Context, opts ...SpanOption) (context.Context, *Span) {
	return s.StartSpan(ctx, KindLLM, withModelDefaults(opts)...)
}

// Tool starts a span for a call to an external interface or API.
func (s *Service) Tool(ctx context.Context, opts ...SpanOption) (context.Context, *Span) {
	return s.StartSpan(ctx, KindTool, opts...)
}

// Task starts a span for a standalone operation with no external request.
func (s *Service) Task(ctx context.Context, opts ...SpanOption) (context.Context, *Span) {
	return s.StartSpan(ctx, KindTask, opts...)
}

// Agent starts a span for a dynamic workflow in which a model decides the
// sequence of actions.
func (s *Service) Agent(ctx context.Context, opts ...SpanOption) (context.Context, *Span) {
	return s.StartSpan(ctx, KindAgent, opts...)
}

// Workflow starts a span for a predefined sequence of operations.
func (s *Service) Workflow(ctx context.Context, opts ...SpanOption) (context.Context, *Span) {
	return s.StartSpan(ctx, KindWorkflow, opts...)
}

// Embedding starts a span for an embedding model call. Model name and
// provider default to "custom" when not supplied.
func (s *Service) Embedding(ctx context.Context, opts ...SpanOption) (context.Context, *Span) {
	return s.StartSpan(ctx, KindEmbedding, withModelDefaults(opts)...)
}

// Retrieval starts a span for a vector search returning documents from an
// external knowledge base.
func (s *Service) Retrieval(ctx context.Context, opts ...SpanOption) (context.Context, *Span) {
	return s.StartSpan(ctx, KindRetrieval, opts...)
}

func withModelDefaults(opts []SpanOption) []SpanOption {
	probe := spanConfig{}
	for _, opt := range opts {
		opt(&probe)
	}
	if probe.modelName == "" {
		opts = append(opts, WithModelName(defaultModel))
	}
	if probe.modelProvider == "" {
		opts = append(opts, WithModelProvider(defaultModel))
	}
	return opts
}

// resolveSessionID prefers the explicit argument, then walks the ancestor
// chain for the nearest span carrying a session tag.
func resolveSessionID(explicit string, parent *Span) string {
	if explicit != "" {
		return explicit
	}
	for a := parent; a != nil; a = a.parent {
		if id := a.tag(tagSessionID); id != "" {
			return id
		}
	}
	return ""
}

// resolveMLApp prefers the explicit argument, then the nearest ancestor
// carrying the tag, then the service-wide default.
func (s *Service) resolveMLApp(explicit string, parent *Span) string {
	if explicit != "" {
		return explicit
	}
	for a := parent; a != nil; a = a.parent {
		if app := a.tag(tagMLApp); app != "" {
			return app
		}
	}
	return s.config().MLApp
}

// nearestKnownAncestorID walks from span to the root and returns the span id
// of the nearest span of a recognized kind, including span itself.
func nearestKnownAncestorID(span *Span) string {
	for a := span; a != nil; a = a.parent {
		if a.kind.Known() {
			return a.SpanID()
		}
	}
	return rootParentID
}

// TraceID returns the physical trace id in hex.
func (s *Span) TraceID() string {
	return s.physical.Context().TraceID().String()
}

// SpanID returns the physical span id in hex.
func (s *Span) SpanID() string {
	return s.physical.Context().SpanID().String()
}

// Kind returns the span's operation kind.
func (s *Span) Kind() Kind { return s.kind }

// Name returns the span's current name, including any annotation override.
func (s *Span) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Finished reports whether Finish has been called.
func (s *Span) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// tag returns a single tag value.
func (s *Span) tag(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta[key]
}

// setTag writes a single tag value, refusing writes on finished spans.
func (s *Span) setTag(key, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return false
	}
	s.meta[key] = value
	return true
}

// Finish marks the span finished, ends the physical span, and hands the span
// to the trace processing filter for delivery. Finishing twice is a logged
// no-op.
func (s *Span) Finish(ctx context.Context) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		clog.FromContext(ctx).Warn("Span already finished")
		return
	}
	s.finished = true
	s.mu.Unlock()

	s.physical.End()
	s.svc.processSpan(ctx, s)
}

// event snapshots the span into the immutable record delivered to the
// collector.
func (s *Span) event() *SpanEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta := make(map[string]string, len(s.meta))
	for k, v := range s.meta {
		meta[k] = v
	}

	parentID := meta[tagPropagatedID]
	if parentID == "" {
		parentID = meta[tagParentID]
	}

	return &SpanEvent{
		SpanID:     s.physical.Context().SpanID().String(),
		TraceID:    s.physical.Context().TraceID().String(),
		ParentID:   parentID,
		Name:       s.name,
		Kind:       s.kind.String(),
		SessionID:  meta[tagSessionID],
		MLApp:      meta[tagMLApp],
		StartNS:    s.start.UnixNano(),
		DurationNS: time.Since(s.start).Nanoseconds(),
		Meta:       meta,
	}
}

// SpanEvent is the immutable span record enqueued on the span writer.
type SpanEvent struct {
	SpanID     string            `json:"span_id"`
	TraceID    string            `json:"trace_id"`
	ParentID   string            `json:"parent_id"`
	Name       string            `json:"name"`
	Kind       string            `json:"span.kind"`
	SessionID  string            `json:"session_id,omitempty"`
	MLApp      string            `json:"ml_app,omitempty"`
	StartNS    int64             `json:"start_ns"`
	DurationNS int64             `json:"duration"`
	Meta       map[string]string `json:"meta"`
}

// SpanRef is an exported reference to a span, used to submit evaluation
// metrics against it from outside the trace.
type SpanRef struct {
	SpanID  string `json:"span_id"`
	TraceID string `json:"trace_id"`
}

// ErrNoSpan is returned by ExportSpan when no span is provided and none is
// active on the context.
var ErrNoSpan = errors.New("no span provided and no active span found")

// ExportSpan returns the span/trace id pair for span, or for the active span
// on ctx when span is nil.
func (s *Service) ExportSpan(ctx context.Context, span *Span) (SpanRef, error) {
	if span == nil {
		active, ok := SpanFromContext(ctx)
		if !ok {
			clog.FromContext(ctx).Warn("No span provided and no active span found")
			return SpanRef{}, ErrNoSpan
		}
		span = active
	}
	return SpanRef{SpanID: span.SpanID(), TraceID: span.TraceID()}, nil
}
