/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

/*
Package llmobs provides structured, semantically-typed tracing for LLM and
agent workloads on top of the OpenTelemetry trace API.

# Overview

The package decorates generic spans with an operation kind (llm, tool, task,
agent, workflow, embedding, retrieval), validated structured payloads
(messages, documents, metrics, tags), and session/application/parent linkage,
and delivers completed span records and evaluation metrics to a remote
collector through background batching writers.

The main entry point is the Service, an explicit handle constructed once at
startup and passed to all call sites:

	svc, err := llmobs.New(ctx, llmobs.WithConfig(llmobs.Config{MLApp: "support-bot"}))
	if err != nil {
		return err
	}
	if err := svc.Enable(ctx); err != nil {
		return err
	}
	defer svc.Disable(ctx)

Create typed spans and annotate them:

	ctx, span := svc.LLM(ctx, llmobs.WithModelName("gpt-4"), llmobs.WithSessionID("session-1"))
	svc.Annotate(ctx, span, llmobs.Annotation{
		InputData:  "What is the capital of France?",
		OutputData: llmobs.Message{Content: "Paris.", Role: "assistant"},
		Metrics:    map[string]float64{"total_tokens": 42},
	})
	span.Finish(ctx)

Callers that cannot reach a span directly (it is started deep inside an
instrumented library) can open an annotation scope instead; any qualifying
span started while the scope is active receives the pending annotations:

	ctx, release := svc.AnnotationContext(ctx, llmobs.WithAnnotationTags(map[string]any{"team": "search"}))
	defer release()

Evaluation metrics are submitted against an exported span reference and
bypass spans entirely:

	ref, _ := svc.ExportSpan(ctx, span)
	svc.SubmitEvaluation(ctx, ref, "relevance", llmobs.MetricScore, 0.9)

Nothing in this package raises into instrumented application code: usage,
serialization, delivery, and propagation failures are logged via clog and
become no-ops. Only Enable reports configuration errors to the caller.
*/
package llmobs
