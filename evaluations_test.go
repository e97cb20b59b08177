/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package llmobs

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"
)

// collector is a minimal in-memory collector endpoint.
type collector struct {
	mu     sync.Mutex
	bodies [][]byte
}

func (c *collector) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		c.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	})
}

func (c *collector) metrics(t *testing.T) []EvaluationMetric {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var all []EvaluationMetric
	for _, body := range c.bodies {
		var payload struct {
			Data struct {
				Type       string `json:"type"`
				Attributes struct {
					Metrics []EvaluationMetric `json:"metrics"`
				} `json:"attributes"`
			} `json:"data"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("parsing eval payload: %v", err)
		}
		if got := payload.Data.Type; got != "evaluation_metric" {
			t.Errorf("payload type: got = %q, wanted = evaluation_metric", got)
		}
		all = append(all, payload.Data.Attributes.Metrics...)
	}
	return all
}

func newEvalTestService(t *testing.T) (*Service, *collector) {
	t.Helper()
	col := &collector{}
	server := httptest.NewServer(col.handler())
	t.Cleanup(server.Close)

	svc := newTestServiceWithConfig(t, Config{
		MLApp:          "test-app",
		APIKey:         "test-key",
		Enabled:        true,
		AgentURL:       server.URL,
		WriterInterval: time.Hour,
		WriterTimeout:  time.Second,
	})
	return svc, col
}

func testRef() SpanRef {
	return SpanRef{SpanID: "a1b2c3", TraceID: "d4e5f6"}
}

func TestSubmitEvaluationScore(t *testing.T) {
	svc, col := newEvalTestService(t)
	ctx := context.Background()

	svc.SubmitEvaluation(ctx, testRef(), "relevance", MetricScore, 0.9)
	svc.Flush(ctx)

	metrics := col.metrics(t)
	if len(metrics) != 1 {
		t.Fatalf("delivered metrics: got = %d, wanted = 1", len(metrics))
	}
	m := metrics[0]
	if m.MetricKind != "score" {
		t.Errorf("metric kind: got = %q, wanted = score", m.MetricKind)
	}
	if m.ScoreValue == nil || *m.ScoreValue != 0.9 {
		t.Errorf("score value: got = %v, wanted = 0.9", m.ScoreValue)
	}
	if m.CategoricalValue != "" {
		t.Errorf("categorical value: got = %q, wanted = empty", m.CategoricalValue)
	}
	if m.TimestampMS <= 0 {
		t.Errorf("timestamp: got = %d, wanted = defaulted to now", m.TimestampMS)
	}
}

func TestSubmitEvaluationNumericalAliasMapsToScore(t *testing.T) {
	svc, col := newEvalTestService(t)
	ctx := context.Background()

	svc.SubmitEvaluation(ctx, testRef(), "accuracy", MetricKind("numerical"), 7)
	svc.Flush(ctx)

	metrics := col.metrics(t)
	if len(metrics) != 1 {
		t.Fatalf("delivered metrics: got = %d, wanted = 1", len(metrics))
	}
	if got := metrics[0].MetricKind; got != "score" {
		t.Errorf("metric kind: got = %q, wanted = score (numerical alias)", got)
	}
	if metrics[0].ScoreValue == nil || *metrics[0].ScoreValue != 7 {
		t.Errorf("score value: got = %v, wanted = 7", metrics[0].ScoreValue)
	}
}

func TestSubmitEvaluationCategoricalRejectsNumericValue(t *testing.T) {
	svc, _ := newEvalTestService(t)
	ctx := context.Background()

	svc.SubmitEvaluation(ctx, testRef(), "sentiment", MetricCategorical, 0.4)

	if got := svc.evalWriterHandle().Pending(); got != 0 {
		t.Errorf("pending metrics: got = %d, wanted = 0 (rejected)", got)
	}
}

func TestSubmitEvaluationScoreRejectsStringValue(t *testing.T) {
	svc, _ := newEvalTestService(t)
	ctx := context.Background()

	svc.SubmitEvaluation(ctx, testRef(), "accuracy", MetricScore, "high")

	if got := svc.evalWriterHandle().Pending(); got != 0 {
		t.Errorf("pending metrics: got = %d, wanted = 0 (rejected)", got)
	}
}

func TestSubmitEvaluationValidation(t *testing.T) {
	svc, _ := newEvalTestService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		submit func()
	}{{
		name:   "missing span id",
		submit: func() { svc.SubmitEvaluation(ctx, SpanRef{TraceID: "t"}, "l", MetricScore, 1.0) },
	}, {
		name:   "missing trace id",
		submit: func() { svc.SubmitEvaluation(ctx, SpanRef{SpanID: "s"}, "l", MetricScore, 1.0) },
	}, {
		name:   "empty label",
		submit: func() { svc.SubmitEvaluation(ctx, testRef(), "", MetricScore, 1.0) },
	}, {
		name:   "unknown metric kind",
		submit: func() { svc.SubmitEvaluation(ctx, testRef(), "l", MetricKind("ordinal"), 1.0) },
	}, {
		name:   "negative timestamp",
		submit: func() { svc.SubmitEvaluation(ctx, testRef(), "l", MetricScore, 1.0, WithEvalTimestamp(-5)) },
	}}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.submit()
			if got := svc.evalWriterHandle().Pending(); got != 0 {
				t.Errorf("pending metrics: got = %d, wanted = 0", got)
			}
		})
	}
}

func TestSubmitEvaluationDefaultTags(t *testing.T) {
	svc, col := newEvalTestService(t)
	ctx := context.Background()

	svc.SubmitEvaluation(ctx, testRef(), "relevance", MetricScore, 1.0,
		WithEvalTags(map[string]any{"ml_app": "override", "attempt": 3}))
	svc.Flush(ctx)

	metrics := col.metrics(t)
	if len(metrics) != 1 {
		t.Fatalf("delivered metrics: got = %d, wanted = 1", len(metrics))
	}
	tags := metrics[0].Tags

	// Pre-seeded defaults may be overridden by caller tags.
	if !slices.Contains(tags, "ml_app:override") {
		t.Errorf("tags: got = %v, wanted to contain ml_app:override", tags)
	}
	if !slices.Contains(tags, "llmobs.version:"+Version) {
		t.Errorf("tags: got = %v, wanted to contain llmobs.version", tags)
	}
	if !slices.Contains(tags, "attempt:3") {
		t.Errorf("tags: got = %v, wanted to contain coerced attempt:3", tags)
	}
}

func TestSubmitEvaluationDisabled(t *testing.T) {
	ctx := context.Background()
	svc, err := New(ctx, WithConfig(Config{MLApp: "test-app", APIKey: "k", Enabled: true, WriterInterval: time.Hour}))
	if err != nil {
		t.Fatalf("New: got = %v, wanted = nil error", err)
	}

	svc.SubmitEvaluation(ctx, testRef(), "relevance", MetricScore, 1.0)
	if got := svc.evalWriterHandle().Pending(); got != 0 {
		t.Errorf("pending metrics while disabled: got = %d, wanted = 0", got)
	}
}

func TestSubmitEvaluationRequiresAPIKey(t *testing.T) {
	svc := newTestServiceWithConfig(t, Config{
		MLApp:          "test-app",
		Enabled:        true,
		AgentURL:       "http://127.0.0.1:1",
		WriterInterval: time.Hour,
	})

	svc.SubmitEvaluation(context.Background(), testRef(), "relevance", MetricScore, 1.0)
	if got := svc.evalWriterHandle().Pending(); got != 0 {
		t.Errorf("pending metrics without api key: got = %d, wanted = 0", got)
	}
}

func TestSubmitEvaluationMetadata(t *testing.T) {
	svc, col := newEvalTestService(t)
	ctx := context.Background()

	svc.SubmitEvaluation(ctx, testRef(), "relevance", MetricScore, 1.0,
		WithEvalMetadata(map[string]any{"judge": "model-graded"}))
	svc.Flush(ctx)

	metrics := col.metrics(t)
	if len(metrics) != 1 {
		t.Fatalf("delivered metrics: got = %d, wanted = 1", len(metrics))
	}
	if got := metrics[0].Metadata["judge"]; got != "model-graded" {
		t.Errorf("metadata: got = %v, wanted = model-graded", got)
	}
}
