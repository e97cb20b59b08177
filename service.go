/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package llmobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chainguard-dev/clog"
	"github.com/sethvargo/go-envconfig"
	"golang.org/x/sync/errgroup"

	"chainguard.dev/llmobs/writer"
)

// Service is the LLM observability overlay: span factory, annotation context
// registry, evaluation submission, distributed propagation, and the
// lifecycle of the background writers. Construct one instance at startup and
// pass it by handle to all call sites; there is no hidden global state.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	tracer  Tracer
	enabled bool

	// reg is replaced wholesale after a fork so a lock held across the fork
	// boundary is never inherited.
	reg *annotationRegistry

	// hooks fire synchronously for every span the factory starts. Installed
	// by Enable, removed by Disable.
	startHooks []func(context.Context, *Span)

	// completionHooks fire for every span record handed to the span writer,
	// e.g. for evaluation runner bookkeeping.
	completionHooks []func(*SpanEvent)

	spanWriter *writer.Writer[*SpanEvent]
	evalWriter *writer.Writer[EvaluationMetric]
}

// Option configures a Service at construction time.
type Option func(*Service) error

// WithConfig replaces the environment-derived configuration.
func WithConfig(cfg Config) Option {
	return func(s *Service) error {
		s.cfg = cfg
		return nil
	}
}

// WithTracer substitutes the underlying generic tracer. Defaults to the
// global OpenTelemetry tracer provider.
func WithTracer(t Tracer) Option {
	return func(s *Service) error {
		if t == nil {
			return fmt.Errorf("tracer must not be nil")
		}
		s.tracer = t
		return nil
	}
}

// WithCompletionHook registers a hook invoked with every span record handed
// to the span writer.
func WithCompletionHook(hook func(*SpanEvent)) Option {
	return func(s *Service) error {
		if hook == nil {
			return fmt.Errorf("completion hook must not be nil")
		}
		s.completionHooks = append(s.completionHooks, hook)
		return nil
	}
}

// New builds a Service from the environment and the given options. The
// service starts disabled; call Enable to start delivery.
func New(ctx context.Context, opts ...Option) (*Service, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("processing environment: %w", err)
	}
	s := &Service{
		cfg:    cfg,
		tracer: NewOTelTracer(),
		reg:    newAnnotationRegistry(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.spanWriter = newSpanWriter(s.cfg)
	s.evalWriter = newEvalWriter(s.cfg)
	return s, nil
}

// Enable validates the configuration, applies registered integrations,
// installs the span-start hook and trace processing filter, and starts both
// writers. It is idempotent. Configuration errors are the only failures
// surfaced to the caller.
func (s *Service) Enable(ctx context.Context) error {
	log := clog.FromContext(ctx)
	s.mu.Lock()
	if s.enabled {
		s.mu.Unlock()
		log.Debug("LLM observability already enabled")
		return nil
	}
	if !s.cfg.Enabled {
		s.mu.Unlock()
		log.Debug("LLM observability disabled by configuration; not starting the service")
		return nil
	}
	if err := s.cfg.validate(); err != nil {
		s.mu.Unlock()
		return err
	}

	s.startHooks = append(s.startHooks, s.applyAnnotations)

	if err := s.spanWriter.Start(ctx); err != nil {
		log.With("error", err.Error()).Debug("Error starting span writer")
	}
	if err := s.evalWriter.Start(ctx); err != nil {
		log.With("error", err.Error()).Debug("Error starting evaluation metric writer")
	}

	s.enabled = true
	doPatch := s.cfg.Integrations
	s.mu.Unlock()

	if doPatch {
		patchIntegrations(ctx, s)
	}
	log.Debug("LLM observability enabled")
	return nil
}

// Disable flushes and stops both writers and removes the span-start hook. It
// is idempotent.
func (s *Service) Disable(ctx context.Context) {
	log := clog.FromContext(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		log.Debug("LLM observability not enabled")
		return
	}
	s.enabled = false
	s.startHooks = nil

	if err := s.spanWriter.Stop(ctx); err != nil {
		log.With("error", err.Error()).Debug("Error stopping span writer")
	}
	if err := s.evalWriter.Stop(ctx); err != nil {
		log.With("error", err.Error()).Debug("Error stopping evaluation metric writer")
	}
	log.Debug("LLM observability disabled")
}

// Flush synchronously delivers any buffered spans and evaluation metrics. It
// is best-effort and never fails into the caller.
func (s *Service) Flush(ctx context.Context) {
	if !s.isEnabled() {
		clog.FromContext(ctx).Warn("Flushing while LLM observability is disabled; no spans or evaluation metrics will be sent")
		return
	}
	g := new(errgroup.Group)
	span, eval := s.spanWriterHandle(), s.evalWriterHandle()
	g.Go(func() error {
		span.Periodic(ctx)
		return nil
	})
	g.Go(func() error {
		eval.Periodic(ctx)
		return nil
	})
	_ = g.Wait()
}

// HandleFork rebuilds every fork-unsafe component in the child process:
// both writers and the annotation registry lock are discarded and recreated,
// and delivery is restarted if the service was enabled before the fork.
// Inherited queue and socket state is never shared across a fork boundary.
func (s *Service) HandleFork(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reg = &annotationRegistry{entries: s.reg.entries}
	s.spanWriter = s.spanWriter.Recreate()
	s.evalWriter = s.evalWriter.Recreate()

	if s.enabled {
		log := clog.FromContext(ctx)
		if err := s.spanWriter.Start(ctx); err != nil {
			log.With("error", err.Error()).Debug("Error restarting span writer after fork")
		}
		if err := s.evalWriter.Start(ctx); err != nil {
			log.With("error", err.Error()).Debug("Error restarting evaluation metric writer after fork")
		}
	}
}

// Enabled reports whether the service is running.
func (s *Service) Enabled() bool { return s.isEnabled() }

func (s *Service) isEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Service) registry() *annotationRegistry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg
}

func (s *Service) spanWriterHandle() *writer.Writer[*SpanEvent] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spanWriter
}

func (s *Service) evalWriterHandle() *writer.Writer[EvaluationMetric] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evalWriter
}

func (s *Service) runStartHooks(ctx context.Context, span *Span) {
	s.mu.Lock()
	hooks := make([]func(context.Context, *Span), len(s.startHooks))
	copy(hooks, s.startHooks)
	s.mu.Unlock()
	for _, hook := range hooks {
		hook(ctx, span)
	}
}

// processSpan is the trace processing filter: it converts a finished span
// into its delivery record, hands it to the span writer, and triggers
// completion bookkeeping.
func (s *Service) processSpan(ctx context.Context, span *Span) {
	if !s.isEnabled() {
		return
	}
	event := span.event()
	s.spanWriterHandle().Enqueue(event)
	spansProcessed.Inc()

	s.mu.Lock()
	hooks := make([]func(*SpanEvent), len(s.completionHooks))
	copy(hooks, s.completionHooks)
	s.mu.Unlock()
	for _, hook := range hooks {
		hook(event)
	}
}

// newSpanWriter builds the span record writer for cfg.
func newSpanWriter(cfg Config) *writer.Writer[*SpanEvent] {
	return writer.New(writer.Config{
		Name:       "spans",
		Endpoint:   cfg.spanEndpoint(),
		APIKey:     agentlessKey(cfg),
		Interval:   cfg.WriterInterval,
		Timeout:    cfg.WriterTimeout,
		MaxRetries: 3,
	}, encodeSpanBatch)
}

// newEvalWriter builds the evaluation metric writer for cfg.
func newEvalWriter(cfg Config) *writer.Writer[EvaluationMetric] {
	return writer.New(writer.Config{
		Name:       "eval-metrics",
		Endpoint:   cfg.evalEndpoint(),
		APIKey:     agentlessKey(cfg),
		Interval:   cfg.WriterInterval,
		Timeout:    cfg.WriterTimeout,
		MaxRetries: 3,
	}, encodeEvalBatch)
}

func agentlessKey(cfg Config) string {
	if cfg.Agentless {
		return cfg.APIKey
	}
	return ""
}

func encodeSpanBatch(batch []*SpanEvent) ([]byte, error) {
	return json.Marshal(map[string]any{
		"sdk_version": Version,
		"spans":       batch,
	})
}

func encodeEvalBatch(batch []EvaluationMetric) ([]byte, error) {
	return json.Marshal(map[string]any{
		"data": map[string]any{
			"type": "evaluation_metric",
			"attributes": map[string]any{
				"metrics": batch,
			},
		},
	})
}
