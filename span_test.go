/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package llmobs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// newTestService returns an enabled service delivering to a throwaway local
// collector. The flush interval is effectively infinite, so records only move
// on explicit flushes.
func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(server.Close)
	return newTestServiceWithConfig(t, Config{
		MLApp:          "test-app",
		APIKey:         "test-key",
		Enabled:        true,
		AgentURL:       server.URL,
		WriterInterval: time.Hour,
		WriterTimeout:  time.Second,
	}, opts...)
}

func newTestServiceWithConfig(t *testing.T, cfg Config, opts ...Option) *Service {
	t.Helper()
	ctx := context.Background()
	svc, err := New(ctx, append([]Option{WithConfig(cfg)}, opts...)...)
	if err != nil {
		t.Fatalf("New: got = %v, wanted = nil error", err)
	}
	if err := svc.Enable(ctx); err != nil {
		t.Fatalf("Enable: got = %v, wanted = nil error", err)
	}
	t.Cleanup(func() { svc.Disable(context.Background()) })
	return svc
}

func TestStartSpanSetsKindTag(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for _, kind := range []Kind{KindLLM, KindTool, KindTask, KindAgent, KindWorkflow, KindEmbedding, KindRetrieval} {
		_, span := svc.StartSpan(ctx, kind)

		if got := span.tag(tagSpanKind); got != string(kind) {
			t.Errorf("kind tag for %s: got = %q, wanted = %q", kind, got, string(kind))
		}
		if got := span.tag(tagModelName); got != "" {
			t.Errorf("model name for %s: got = %q, wanted = empty", kind, got)
		}
		if got := span.tag(tagModelProvider); got != "" {
			t.Errorf("model provider for %s: got = %q, wanted = empty", kind, got)
		}
		if got := span.Name(); got != string(kind) {
			t.Errorf("default name for %s: got = %q, wanted = %q", kind, got, string(kind))
		}
	}
}

func TestStartSpanUnknownKind(t *testing.T) {
	svc := newTestService(t)
	_, span := svc.StartSpan(context.Background(), Kind("teleportation"))

	if got := span.Kind(); got != KindUnspecified {
		t.Errorf("kind: got = %q, wanted = unspecified", got)
	}
}

func TestLLMHelperDefaultsModel(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, span := svc.LLM(ctx)
	if got := span.tag(tagModelName); got != defaultModel {
		t.Errorf("model name: got = %q, wanted = %q", got, defaultModel)
	}
	if got := span.tag(tagModelProvider); got != defaultModel {
		t.Errorf("model provider: got = %q, wanted = %q", got, defaultModel)
	}

	_, span = svc.LLM(ctx, WithModelName("gpt-4"), WithModelProvider("openai"))
	if got := span.tag(tagModelName); got != "gpt-4" {
		t.Errorf("model name: got = %q, wanted = gpt-4", got)
	}
	if got := span.tag(tagModelProvider); got != "openai" {
		t.Errorf("model provider: got = %q, wanted = openai", got)
	}
}

func TestSessionIDResolution(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// Explicit argument wins.
	actx, _ := svc.Agent(ctx, WithSessionID("outer"))
	_, child := svc.LLM(actx, WithSessionID("explicit"))
	if got := child.tag(tagSessionID); got != "explicit" {
		t.Errorf("session id: got = %q, wanted = explicit", got)
	}

	// Nearest ancestor carrying the tag.
	wctx, _ := svc.Workflow(actx)
	_, grandchild := svc.LLM(wctx)
	if got := grandchild.tag(tagSessionID); got != "outer" {
		t.Errorf("inherited session id: got = %q, wanted = outer", got)
	}

	// No session anywhere: tag absent.
	_, orphan := svc.LLM(ctx)
	if got := orphan.tag(tagSessionID); got != "" {
		t.Errorf("session id: got = %q, wanted = empty", got)
	}
}

func TestMLAppResolution(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// Process default.
	_, root := svc.Task(ctx)
	if got := root.tag(tagMLApp); got != "test-app" {
		t.Errorf("default ml app: got = %q, wanted = test-app", got)
	}

	// Nearest ancestor beats the default.
	actx, _ := svc.Agent(ctx, WithMLApp("override-app"))
	_, child := svc.Task(actx)
	if got := child.tag(tagMLApp); got != "override-app" {
		t.Errorf("inherited ml app: got = %q, wanted = override-app", got)
	}

	// Explicit argument beats the ancestor.
	_, explicit := svc.Task(actx, WithMLApp("explicit-app"))
	if got := explicit.tag(tagMLApp); got != "explicit-app" {
		t.Errorf("explicit ml app: got = %q, wanted = explicit-app", got)
	}
}

func TestLogicalParentResolution(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, root := svc.Workflow(ctx)
	if got := root.tag(tagParentID); got != rootParentID {
		t.Errorf("root parent id: got = %q, wanted = %q", got, rootParentID)
	}

	wctx, workflow := svc.Workflow(ctx)
	lctx, llm := svc.LLM(wctx)
	if got := llm.tag(tagParentID); got != workflow.SpanID() {
		t.Errorf("child parent id: got = %q, wanted = %q", got, workflow.SpanID())
	}

	_, grandchild := svc.Tool(lctx)
	if got := grandchild.tag(tagParentID); got != llm.SpanID() {
		t.Errorf("grandchild parent id: got = %q, wanted = %q", got, llm.SpanID())
	}
}

func TestAnnotateFinishedSpanIsNoOp(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, span := svc.LLM(ctx)
	span.Finish(ctx)

	svc.Annotate(ctx, span, Annotation{
		Name:       "renamed",
		InputData:  "hi",
		OutputData: "hello",
		Metadata:   map[string]any{"k": "v"},
		Metrics:    map[string]float64{"total_tokens": 7},
		Tags:       map[string]any{"team": "search"},
		Prompt:     &Prompt{Template: "hello {{name}}"},
	})

	for _, key := range []string{tagInputMessages, tagOutputMessages, tagMetadata, tagMetrics, tagTags, tagInputPrompt} {
		if got := span.tag(key); got != "" {
			t.Errorf("tag %s on finished span: got = %q, wanted = empty", key, got)
		}
	}
	if got := span.Name(); got != "llm" {
		t.Errorf("name on finished span: got = %q, wanted = llm", got)
	}
}

func TestFinishTwiceIsNoOp(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, span := svc.LLM(ctx)
	span.Finish(ctx)
	span.Finish(ctx)

	if got := svc.spanWriterHandle().Pending(); got != 1 {
		t.Errorf("pending span records: got = %d, wanted = 1", got)
	}
}

func TestExportSpan(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	sctx, span := svc.LLM(ctx)
	ref, err := svc.ExportSpan(sctx, nil)
	if err != nil {
		t.Fatalf("ExportSpan: got = %v, wanted = nil error", err)
	}
	want := SpanRef{SpanID: span.SpanID(), TraceID: span.TraceID()}
	if diff := cmp.Diff(want, ref); diff != "" {
		t.Errorf("exported ref (-want, +got):\n%s", diff)
	}

	if _, err := svc.ExportSpan(ctx, nil); err == nil {
		t.Error("ExportSpan without active span: got = nil, wanted = error")
	}
}

func TestEndToEndLLMAnnotation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	sctx, span := svc.LLM(ctx, WithModelName("gpt"), WithSessionID("s1"))
	svc.Annotate(sctx, span, Annotation{
		InputData:  "hi",
		OutputData: "hello",
	})
	span.Finish(sctx)

	event := span.event()
	if got := event.SessionID; got != "s1" {
		t.Errorf("session id: got = %q, wanted = s1", got)
	}

	var input []Message
	if err := json.Unmarshal([]byte(event.Meta[tagInputMessages]), &input); err != nil {
		t.Fatalf("parsing input messages: %v", err)
	}
	if diff := cmp.Diff([]Message{{Content: "hi"}}, input); diff != "" {
		t.Errorf("input messages (-want, +got):\n%s", diff)
	}

	var output []Message
	if err := json.Unmarshal([]byte(event.Meta[tagOutputMessages]), &output); err != nil {
		t.Fatalf("parsing output messages: %v", err)
	}
	if diff := cmp.Diff([]Message{{Content: "hello"}}, output); diff != "" {
		t.Errorf("output messages (-want, +got):\n%s", diff)
	}

	if got := event.Meta[tagModelName]; got != "gpt" {
		t.Errorf("model name: got = %q, wanted = gpt", got)
	}
}

func TestStartSpanWhileDisabled(t *testing.T) {
	ctx := context.Background()
	svc, err := New(ctx, WithConfig(Config{MLApp: "test-app", Enabled: true, WriterInterval: time.Hour}))
	if err != nil {
		t.Fatalf("New: got = %v, wanted = nil error", err)
	}

	// Not enabled: the span is still a valid physical span.
	_, span := svc.LLM(ctx)
	if span.SpanID() == "" || span.TraceID() == "" {
		t.Error("span ids: got = empty, wanted = non-empty while disabled")
	}

	span.Finish(ctx)
	if got := svc.spanWriterHandle().Pending(); got != 0 {
		t.Errorf("pending records while disabled: got = %d, wanted = 0", got)
	}
}
