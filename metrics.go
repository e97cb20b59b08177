/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package llmobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Internal telemetry with consistent dimensions.
var (
	spansStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmobs_spans_started_total",
			Help: "Total number of LLM observability spans started, by kind",
		},
		[]string{"kind"},
	)

	spansProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "llmobs_spans_processed_total",
			Help: "Total number of finished spans handed to the span writer",
		},
	)

	annotationsApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "llmobs_annotations_applied_total",
			Help: "Total number of annotations applied to spans",
		},
	)
)
