/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package llmobs

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// Context plumbing. All ambient state flows through context values rather
// than package-level globals: the active overlay span, the propagated logical
// parent id installed by ActivateHeaders, and the ambient annotation scope id.

type activeSpanKey struct{}
type propagatedParentKey struct{}
type annotationScopeKey struct{}

// ContextWithSpan returns a context carrying span as the active LLM
// observability span.
func ContextWithSpan(ctx context.Context, span *Span) context.Context {
	return context.WithValue(ctx, activeSpanKey{}, span)
}

// SpanFromContext returns the active LLM observability span, if any.
func SpanFromContext(ctx context.Context) (*Span, bool) {
	span, ok := ctx.Value(activeSpanKey{}).(*Span)
	return span, ok
}

func contextWithPropagatedParent(ctx context.Context, parentID string) context.Context {
	return context.WithValue(ctx, propagatedParentKey{}, parentID)
}

func propagatedParentFromContext(ctx context.Context) string {
	id, _ := ctx.Value(propagatedParentKey{}).(string)
	return id
}

func contextWithScopeID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, annotationScopeKey{}, id)
}

func scopeIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(annotationScopeKey{}).(string)
	return id
}

// rand64 returns a random 64-bit identifier in hex. Used for ambient
// annotation scope ids.
func rand64() string {
	var b [8]byte
	// crypto/rand.Read does not fail on supported platforms.
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%016x", binary.BigEndian.Uint64(b[:]))
}
