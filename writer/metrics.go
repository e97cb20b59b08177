/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package writer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Delivery telemetry, labeled by writer name.
var (
	recordsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmobs_writer_records_enqueued_total",
			Help: "Total number of records enqueued for delivery",
		},
		[]string{"writer"},
	)

	recordsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmobs_writer_records_dropped_total",
			Help: "Total number of records dropped after failed delivery",
		},
		[]string{"writer"},
	)

	flushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmobs_writer_flushes_total",
			Help: "Total number of successful batch deliveries",
		},
		[]string{"writer"},
	)

	flushFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmobs_writer_flush_failures_total",
			Help: "Total number of failed batch deliveries",
		},
		[]string{"writer"},
	)
)
