/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package llmobs

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
)

// MetricKind is the type of an evaluation metric.
type MetricKind string

const (
	// MetricCategorical metrics carry a string value.
	MetricCategorical MetricKind = "categorical"
	// MetricScore metrics carry a numeric value.
	MetricScore MetricKind = "score"

	// metricNumerical is a deprecated alias accepted on input and silently
	// stored as MetricScore.
	metricNumerical MetricKind = "numerical"
)

// EvaluationMetric is the immutable record enqueued on the evaluation
// writer. Exactly one of CategoricalValue and ScoreValue is set, matching
// MetricKind.
type EvaluationMetric struct {
	SpanID           string         `json:"span_id"`
	TraceID          string         `json:"trace_id"`
	Label            string         `json:"label"`
	MetricKind       string         `json:"metric_type"`
	CategoricalValue string         `json:"categorical_value,omitempty"`
	ScoreValue       *float64       `json:"score_value,omitempty"`
	TimestampMS      int64          `json:"timestamp_ms"`
	MLApp            string         `json:"ml_app"`
	Tags             []string       `json:"tags"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// EvalOption configures optional fields of SubmitEvaluation.
type EvalOption func(*evalConfig)

type evalConfig struct {
	tags        map[string]any
	mlApp       string
	timestampMS int64
	metadata    map[string]any
}

// WithEvalTags tags the evaluation metric. Non-string values are coerced to
// text; values that cannot be coerced are skipped individually.
func WithEvalTags(tags map[string]any) EvalOption {
	return func(c *evalConfig) { c.tags = tags }
}

// WithEvalMLApp overrides the ML application name for this metric.
func WithEvalMLApp(app string) EvalOption {
	return func(c *evalConfig) { c.mlApp = app }
}

// WithEvalTimestamp sets the metric timestamp in milliseconds. Defaults to
// the current time.
func WithEvalTimestamp(ms int64) EvalOption {
	return func(c *evalConfig) { c.timestampMS = ms }
}

// WithEvalMetadata attaches JSON-serializable metadata to the metric.
func WithEvalMetadata(md map[string]any) EvalOption {
	return func(c *evalConfig) { c.metadata = md }
}

// SubmitEvaluation validates and enqueues a standalone evaluation metric for
// the span referenced by ref. Validation failures are logged and drop the
// metric; nothing is retried and nothing fails into the caller. The call
// never blocks on delivery.
func (s *Service) SubmitEvaluation(ctx context.Context, ref SpanRef, label string, kind MetricKind, value any, opts ...EvalOption) {
	log := clog.FromContext(ctx)
	if !s.isEnabled() {
		log.Warn("SubmitEvaluation called while LLM observability is disabled; the metric will not be sent")
		return
	}
	cfg := s.config()
	if cfg.APIKey == "" {
		log.Warn("An API key is required for sending evaluation metrics; the metric will not be sent")
		return
	}
	if ref.SpanID == "" || ref.TraceID == "" {
		log.Warn("Both span_id and trace_id must be specified to submit an evaluation metric")
		return
	}

	var ec evalConfig
	for _, opt := range opts {
		opt(&ec)
	}

	mlApp := ec.mlApp
	if mlApp == "" {
		mlApp = cfg.MLApp
	}
	if mlApp == "" {
		log.Warn("An ML application name is required for sending evaluation metrics; the metric will not be sent")
		return
	}

	timestampMS := ec.timestampMS
	if timestampMS == 0 {
		timestampMS = time.Now().UnixMilli()
	}
	if timestampMS < 0 {
		log.Warn("Evaluation timestamp must be a non-negative integer of milliseconds; the metric will not be sent")
		return
	}

	if label == "" {
		log.Warn("An evaluation metric label is required; the metric will not be sent")
		return
	}

	kind, ok := canonicalMetricKind(ctx, kind)
	if !ok {
		log.With("metric_kind", string(kind)).Warn("Evaluation metric kind must be one of 'categorical' or 'score'; the metric will not be sent")
		return
	}

	metric := EvaluationMetric{
		SpanID:      ref.SpanID,
		TraceID:     ref.TraceID,
		Label:       label,
		MetricKind:  string(kind),
		TimestampMS: timestampMS,
		MLApp:       mlApp,
	}

	switch kind {
	case MetricCategorical:
		str, ok := value.(string)
		if !ok {
			log.Warn("Evaluation value must be a string for a categorical metric; the metric will not be sent")
			return
		}
		metric.CategoricalValue = str
	case MetricScore:
		num, ok := toFloat(value)
		if !ok {
			log.Warn("Evaluation value must be numeric for a score metric; the metric will not be sent")
			return
		}
		metric.ScoreValue = &num
	}

	// Default tags are pre-seeded and may be overridden by caller tags.
	tags := map[string]string{
		"llmobs.version": Version,
		"ml_app":         mlApp,
	}
	for k, v := range ec.tags {
		text, err := coerceText(v)
		if err != nil {
			log.With("tag", k).Warn("Failed to coerce evaluation tag value to text; skipping tag")
			continue
		}
		tags[k] = text
	}
	metric.Tags = make([]string, 0, len(tags))
	for k, v := range tags {
		metric.Tags = append(metric.Tags, fmt.Sprintf("%s:%s", k, v))
	}

	if ec.metadata != nil {
		if _, err := safeJSON(ec.metadata); err != nil {
			log.With("error", err.Error()).Warn("Evaluation metadata must be JSON-serializable; skipping metadata")
		} else {
			metric.Metadata = ec.metadata
		}
	}

	s.evalWriterHandle().Enqueue(metric)
}

// canonicalMetricKind lowers the deprecated "numerical" alias onto "score".
// The alias is preserved for backward compatibility, not treated as an error.
func canonicalMetricKind(ctx context.Context, kind MetricKind) (MetricKind, bool) {
	switch lowered := MetricKind(strings.ToLower(string(kind))); lowered {
	case MetricCategorical, MetricScore:
		return lowered, true
	case metricNumerical:
		clog.FromContext(ctx).Warn("The evaluation metric kind 'numerical' is deprecated; use 'score' instead. Converting to 'score'.")
		return MetricScore, true
	default:
		return kind, false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// coerceText renders a tag value as text. Strings pass through; scalars are
// formatted; anything else must be JSON-serializable.
func coerceText(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), nil
	case fmt.Stringer:
		return t.String(), nil
	default:
		return safeJSON(v)
	}
}
