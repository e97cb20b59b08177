/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package llmobs

import (
	"context"
	"sync"

	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"
)

// The annotation context registry lets a caller annotate spans it never
// holds a reference to: spans are frequently started deep inside instrumented
// library code. A scope registers a pending annotation keyed by an ambient
// context id carried on the context; every qualifying span started while
// that id is active receives the payload.

// annotationEntry is one pending annotation. Entries are matched by scopeID
// and removed by their own id, so nested scopes sharing an ambient id append
// rather than replace.
type annotationEntry struct {
	id      string
	scopeID string
	ann     Annotation
}

// annotationRegistry is the process-wide ordered list of pending annotations.
// It is recreated wholesale after a fork so a lock held across the fork
// boundary is never inherited.
type annotationRegistry struct {
	mu      sync.Mutex
	entries []annotationEntry
}

func newAnnotationRegistry() *annotationRegistry {
	return &annotationRegistry{}
}

func (r *annotationRegistry) register(e annotationEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

// deregister removes exactly one entry by annotation id. Reports false on a
// double-close or an already expired scope.
func (r *annotationRegistry) deregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.id == id {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

// matching snapshots the entries whose scope id matches, in registration
// order. The snapshot is applied outside the lock: the full annotate path may
// start nested spans that re-enter the registry, and Go mutexes are not
// reentrant.
func (r *annotationRegistry) matching(scopeID string) []Annotation {
	r.mu.Lock()
	defer r.mu.Unlock()
	var anns []Annotation
	for _, e := range r.entries {
		if e.scopeID == scopeID {
			anns = append(anns, e.ann)
		}
	}
	return anns
}

// AnnotationOption configures an annotation scope.
type AnnotationOption func(*Annotation)

// WithAnnotationTags sets tags to merge onto every qualifying span started
// within the scope.
func WithAnnotationTags(tags map[string]any) AnnotationOption {
	return func(a *Annotation) { a.Tags = tags }
}

// WithAnnotationPrompt sets a prompt to attach to every qualifying span
// started within the scope.
func WithAnnotationPrompt(p *Prompt) AnnotationOption {
	return func(a *Annotation) { a.Prompt = p }
}

// WithAnnotationName overrides the name of every qualifying span started
// within the scope.
func WithAnnotationName(name string) AnnotationOption {
	return func(a *Annotation) { a.Name = name }
}

// AnnotationContext opens an annotation scope. The returned context carries
// the scope's ambient id; an id already present on ctx is reused so nested
// scopes share it and their annotations stack in registration order, later
// scopes winning tag conflicts. The release function closes the scope;
// closing twice is a logged no-op.
func (s *Service) AnnotationContext(ctx context.Context, opts ...AnnotationOption) (context.Context, func()) {
	var ann Annotation
	for _, opt := range opts {
		opt(&ann)
	}

	scopeID := scopeIDFromContext(ctx)
	if scopeID == "" {
		scopeID = rand64()
		ctx = contextWithScopeID(ctx, scopeID)
	}

	entry := annotationEntry{
		id:      uuid.NewString(),
		scopeID: scopeID,
		ann:     ann,
	}
	s.registry().register(entry)

	log := clog.FromContext(ctx)
	release := func() {
		if !s.registry().deregister(entry.id) {
			log.With("annotation_id", entry.id).Debug("Annotation scope already closed")
		}
	}
	return ctx, release
}

// applyAnnotations is the span-start hook: it applies every pending
// annotation whose ambient id matches the context, in registration order.
// The kind check keeps the hook cheap for spans that can never qualify.
func (s *Service) applyAnnotations(ctx context.Context, span *Span) {
	if !span.kind.Known() {
		return
	}
	scopeID := scopeIDFromContext(ctx)
	if scopeID == "" {
		return
	}
	for _, ann := range s.registry().matching(scopeID) {
		s.Annotate(ctx, span, ann)
	}
}
