/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package writer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/hashicorp/go-retryablehttp"
)

// Lifecycle status errors. Calling Start or Stop out of order signals a
// non-fatal status error rather than panicking; callers log and move on.
var (
	ErrStarted = errors.New("writer already started")
	ErrStopped = errors.New("writer not started")
)

// apiKeyHeader authenticates against the collector intake in agentless mode.
const apiKeyHeader = "X-Api-Key"

// Config describes one writer instance.
type Config struct {
	// Name labels log lines and telemetry, e.g. "spans" or "eval-metrics".
	Name string

	// Endpoint is the collector URL batches are POSTed to.
	Endpoint string

	// APIKey, when set, is sent on every request.
	APIKey string

	// Interval is the background flush cadence.
	Interval time.Duration

	// Timeout bounds a single delivery attempt.
	Timeout time.Duration

	// MaxRetries bounds delivery retries within one flush cycle.
	MaxRetries int
}

// Writer batches records of type T and flushes them to the configured
// endpoint on a timer. The encode function shapes the wire payload for a
// whole batch.
type Writer[T any] struct {
	cfg    Config
	encode func([]T) ([]byte, error)
	client *retryablehttp.Client

	mu      sync.Mutex
	buf     []T
	started bool
	stop    chan struct{}
	done    chan struct{}

	// flushMu serializes flushes: one in flight at a time.
	flushMu sync.Mutex
}

// New builds an unstarted writer. encode converts a batch into the request
// body.
func New[T any](cfg Config, encode func([]T) ([]byte, error)) *Writer[T] {
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.MaxRetries
	client.HTTPClient.Timeout = cfg.Timeout
	client.Logger = nil
	return &Writer[T]{
		cfg:    cfg,
		encode: encode,
		client: client,
	}
}

// Start launches the background flush loop. Starting a started writer
// returns ErrStarted.
func (w *Writer[T]) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return ErrStarted
	}
	w.started = true
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	go w.loop(context.WithoutCancel(ctx), w.stop, w.done)
	return nil
}

// Stop halts the flush loop and flushes whatever is buffered. Stopping a
// stopped writer returns ErrStopped.
func (w *Writer[T]) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return ErrStopped
	}
	w.started = false
	stop, done := w.stop, w.done
	w.mu.Unlock()

	close(stop)
	<-done
	w.Periodic(ctx)
	return nil
}

// Enqueue appends a record to the buffer. It never blocks on delivery and is
// safe to call whether or not the writer is started.
func (w *Writer[T]) Enqueue(record T) {
	w.mu.Lock()
	w.buf = append(w.buf, record)
	w.mu.Unlock()
	recordsEnqueued.WithLabelValues(w.cfg.Name).Inc()
}

// Periodic flushes the buffered records now. It is best-effort: delivery
// failures are logged and that batch is dropped.
func (w *Writer[T]) Periodic(ctx context.Context) {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	batch := w.buf
	w.buf = nil
	w.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	if err := w.deliver(ctx, batch); err != nil {
		clog.FromContext(ctx).With("writer", w.cfg.Name, "records", len(batch), "error", err.Error()).
			Warn("Failed to deliver batch; dropping records")
		recordsDropped.WithLabelValues(w.cfg.Name).Add(float64(len(batch)))
		flushFailures.WithLabelValues(w.cfg.Name).Inc()
		return
	}
	flushes.WithLabelValues(w.cfg.Name).Inc()
}

// Recreate returns a fresh unstarted writer with the same configuration.
// Used after a process fork, where inherited queue and socket state must not
// be shared with the parent.
func (w *Writer[T]) Recreate() *Writer[T] {
	return New(w.cfg, w.encode)
}

func (w *Writer[T]) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.Periodic(ctx)
		case <-stop:
			return
		}
	}
}

func (w *Writer[T]) deliver(ctx context.Context, batch []T) error {
	body, err := w.encode(batch)
	if err != nil {
		return fmt.Errorf("encoding batch: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, w.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.cfg.APIKey != "" {
		req.Header.Set(apiKeyHeader, w.cfg.APIKey)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting batch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("collector returned status %d", resp.StatusCode)
	}
	return nil
}

// Pending returns the number of buffered records.
func (w *Writer[T]) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buf)
}
