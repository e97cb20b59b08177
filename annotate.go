/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package llmobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chainguard-dev/clog"
)

// Message is a single chat message attached to llm-kind spans.
type Message struct {
	Content string `json:"content"`
	Role    string `json:"role,omitempty"`
}

// Document is a single document attached to embedding inputs and retrieval
// outputs.
type Document struct {
	Text  string  `json:"text,omitempty"`
	Name  string  `json:"name,omitempty"`
	ID    string  `json:"id,omitempty"`
	Score float64 `json:"score,omitempty"`
}

// Annotation is the payload applied to a span by Annotate or by a pending
// annotation scope. All fields are optional; zero fields are skipped.
type Annotation struct {
	// Name overrides the span name.
	Name string

	// InputData and OutputData are normalized per the span kind: messages for
	// llm spans, documents for embedding inputs and retrieval outputs, and an
	// opaque JSON value otherwise. Accepted shapes for messages: a string, a
	// Message, a map with "content"/"role" keys, or a slice of any of those.
	InputData  any
	OutputData any

	// Metadata and Metrics overwrite the span's previous values wholesale.
	Metadata map[string]any
	Metrics  map[string]float64

	// Tags are shallow-merged over the span's existing tag dictionary; new
	// keys win on conflict.
	Tags map[string]any

	// Prompt is validated and stored as an opaque serialized blob. Only
	// meaningful for llm spans.
	Prompt *Prompt

	// Parameters sets input parameters.
	//
	// Deprecated: set parameters and other metadata as Tags instead.
	Parameters map[string]any
}

// Annotate applies the annotation to span, or to the active span on ctx when
// span is nil. Annotation is best-effort: it never fails into the caller.
// Invalid shapes and non-serializable values are logged and skipped; the
// remaining fields of the same call still apply.
func (s *Service) Annotate(ctx context.Context, span *Span, ann Annotation) {
	log := clog.FromContext(ctx)
	if span == nil {
		active, ok := SpanFromContext(ctx)
		if !ok {
			log.Warn("No span provided and no active span found; dropping annotation")
			return
		}
		span = active
	}
	if span.Finished() {
		log.Warn("Cannot annotate a finished span")
		return
	}

	if ann.Metadata != nil {
		tagMetadataDict(ctx, span, ann.Metadata)
	}
	if ann.Metrics != nil {
		tagMetricsDict(ctx, span, ann.Metrics)
	}
	if ann.Tags != nil {
		mergeTagsDict(ctx, span, ann.Tags)
	}
	if ann.Parameters != nil {
		log.Warn("Annotating parameters is deprecated; set parameters and other metadata as tags instead")
		tagParams(ctx, span, ann.Parameters)
	}
	if ann.Name != "" {
		span.mu.Lock()
		if !span.finished {
			span.name = ann.Name
		}
		span.mu.Unlock()
	}
	if ann.Prompt != nil {
		tagPrompt(ctx, span, ann.Prompt)
	}

	if ann.InputData == nil && ann.OutputData == nil {
		annotationsApplied.Inc()
		return
	}
	if !span.kind.Known() {
		log.Debug("Span kind not specified; skipping input/output annotation")
		return
	}

	// Closed dispatch on kind: each kind has exactly one (input, output)
	// normalizer pair, so kind-specific tags stay mutually exclusive.
	switch span.kind {
	case KindLLM:
		tagLLMIO(ctx, span, ann.InputData, ann.OutputData)
	case KindEmbedding:
		tagEmbeddingIO(ctx, span, ann.InputData, ann.OutputData)
	case KindRetrieval:
		tagRetrievalIO(ctx, span, ann.InputData, ann.OutputData)
	default:
		tagTextIO(ctx, span, ann.InputData, ann.OutputData)
	}
	annotationsApplied.Inc()
}

// tagLLMIO writes normalized input/output messages. Empty normalized
// sequences are not written: absence is not the same as an empty list.
func tagLLMIO(ctx context.Context, span *Span, input, output any) {
	log := clog.FromContext(ctx)
	if input != nil {
		if msgs, err := normalizeMessages(input); err != nil {
			log.With("error", err.Error()).Warn("Failed to parse input messages")
		} else if len(msgs) > 0 {
			writeJSONTag(ctx, span, tagInputMessages, msgs)
		}
	}
	if output == nil {
		return
	}
	if msgs, err := normalizeMessages(output); err != nil {
		log.With("error", err.Error()).Warn("Failed to parse output messages")
	} else if len(msgs) > 0 {
		writeJSONTag(ctx, span, tagOutputMessages, msgs)
	}
}

// tagEmbeddingIO writes normalized input documents and an opaque output
// value.
func tagEmbeddingIO(ctx context.Context, span *Span, input, output any) {
	if input != nil {
		if docs, err := normalizeDocuments(input); err != nil {
			clog.FromContext(ctx).With("error", err.Error()).Warn("Failed to parse input documents")
		} else if len(docs) > 0 {
			writeJSONTag(ctx, span, tagInputDocuments, docs)
		}
	}
	if output != nil {
		writeJSONTag(ctx, span, tagOutputValue, output)
	}
}

// tagRetrievalIO writes an opaque input value and normalized output
// documents.
func tagRetrievalIO(ctx context.Context, span *Span, input, output any) {
	if input != nil {
		writeJSONTag(ctx, span, tagInputValue, input)
	}
	if output == nil {
		return
	}
	if docs, err := normalizeDocuments(output); err != nil {
		clog.FromContext(ctx).With("error", err.Error()).Warn("Failed to parse output documents")
	} else if len(docs) > 0 {
		writeJSONTag(ctx, span, tagOutputDocuments, docs)
	}
}

// tagTextIO writes opaque input/output values for the remaining kinds.
func tagTextIO(ctx context.Context, span *Span, input, output any) {
	if input != nil {
		writeJSONTag(ctx, span, tagInputValue, input)
	}
	if output != nil {
		writeJSONTag(ctx, span, tagOutputValue, output)
	}
}

// mergeTagsDict shallow-merges tags over the span's existing tag dictionary,
// new keys winning on conflict.
func mergeTagsDict(ctx context.Context, span *Span, tags map[string]any) bool {
	if len(tags) == 0 {
		return false
	}
	merged := tags
	if existing := span.tag(tagTags); existing != "" {
		current := map[string]any{}
		if err := json.Unmarshal([]byte(existing), &current); err != nil {
			clog.FromContext(ctx).With("error", err.Error()).Warn("Failed to parse existing span tags")
			return false
		}
		for k, v := range tags {
			current[k] = v
		}
		merged = current
	}
	return writeJSONTag(ctx, span, tagTags, merged)
}

// tagMetadataDict overwrites the span's metadata wholesale.
func tagMetadataDict(ctx context.Context, span *Span, metadata map[string]any) bool {
	if len(metadata) == 0 {
		return false
	}
	return writeJSONTag(ctx, span, tagMetadata, metadata)
}

// tagMetricsDict overwrites the span's metrics wholesale.
func tagMetricsDict(ctx context.Context, span *Span, metrics map[string]float64) bool {
	if len(metrics) == 0 {
		return false
	}
	return writeJSONTag(ctx, span, tagMetrics, metrics)
}

// tagParams records deprecated input parameters.
func tagParams(ctx context.Context, span *Span, params map[string]any) bool {
	return writeJSONTag(ctx, span, tagInputParameters, params)
}

// tagPrompt validates and stores the prompt as an opaque serialized blob.
func tagPrompt(ctx context.Context, span *Span, prompt *Prompt) bool {
	if err := prompt.validate(); err != nil {
		clog.FromContext(ctx).With("error", err.Error()).Warn("Failed to validate prompt")
		return false
	}
	return writeJSONTag(ctx, span, tagInputPrompt, prompt)
}

// writeJSONTag serializes v and stores it under key, reporting whether the
// tag was written. Serialization failures and writes to finished spans are
// logged and skipped.
func writeJSONTag(ctx context.Context, span *Span, key string, v any) bool {
	blob, err := safeJSON(v)
	if err != nil {
		clog.FromContext(ctx).With("tag", key, "error", err.Error()).Warn("Value is not JSON-serializable; skipping tag")
		return false
	}
	if !span.setTag(key, blob) {
		clog.FromContext(ctx).With("tag", key).Warn("Cannot tag a finished span")
		return false
	}
	return true
}

// safeJSON serializes v, converting panics and marshal errors into a single
// error so annotation stays best-effort.
func safeJSON(v any) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("marshal panic: %v", r)
		}
	}()
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// normalizeMessages converts the accepted caller shapes into an ordered
// message sequence.
func normalizeMessages(data any) ([]Message, error) {
	switch v := data.(type) {
	case string:
		return []Message{{Content: v}}, nil
	case Message:
		return []Message{v}, nil
	case *Message:
		if v == nil {
			return nil, nil
		}
		return []Message{*v}, nil
	case map[string]any:
		msg, err := messageFromMap(v)
		if err != nil {
			return nil, err
		}
		return []Message{msg}, nil
	case []Message:
		return v, nil
	case []string:
		msgs := make([]Message, 0, len(v))
		for _, s := range v {
			msgs = append(msgs, Message{Content: s})
		}
		return msgs, nil
	case []map[string]any:
		msgs := make([]Message, 0, len(v))
		for _, m := range v {
			msg, err := messageFromMap(m)
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, msg)
		}
		return msgs, nil
	case []any:
		msgs := make([]Message, 0, len(v))
		for _, e := range v {
			sub, err := normalizeMessages(e)
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, sub...)
		}
		return msgs, nil
	default:
		return nil, fmt.Errorf("message must be a string, a Message, or a map, got %T", data)
	}
}

func messageFromMap(m map[string]any) (Message, error) {
	var msg Message
	content, ok := m["content"]
	if !ok {
		return msg, fmt.Errorf("message map missing %q key", "content")
	}
	msg.Content, ok = content.(string)
	if !ok {
		return msg, fmt.Errorf("message content must be a string, got %T", content)
	}
	if role, ok := m["role"]; ok {
		msg.Role, ok = role.(string)
		if !ok {
			return msg, fmt.Errorf("message role must be a string, got %T", role)
		}
	}
	return msg, nil
}

// normalizeDocuments converts the accepted caller shapes into an ordered
// document sequence.
func normalizeDocuments(data any) ([]Document, error) {
	switch v := data.(type) {
	case string:
		return []Document{{Text: v}}, nil
	case Document:
		return []Document{v}, nil
	case *Document:
		if v == nil {
			return nil, nil
		}
		return []Document{*v}, nil
	case map[string]any:
		doc, err := documentFromMap(v)
		if err != nil {
			return nil, err
		}
		return []Document{doc}, nil
	case []Document:
		return v, nil
	case []string:
		docs := make([]Document, 0, len(v))
		for _, s := range v {
			docs = append(docs, Document{Text: s})
		}
		return docs, nil
	case []map[string]any:
		docs := make([]Document, 0, len(v))
		for _, m := range v {
			doc, err := documentFromMap(m)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
		return docs, nil
	case []any:
		docs := make([]Document, 0, len(v))
		for _, e := range v {
			sub, err := normalizeDocuments(e)
			if err != nil {
				return nil, err
			}
			docs = append(docs, sub...)
		}
		return docs, nil
	default:
		return nil, fmt.Errorf("document must be a string, a Document, or a map, got %T", data)
	}
}

func documentFromMap(m map[string]any) (Document, error) {
	var doc Document
	for k, v := range m {
		switch k {
		case "text":
			s, ok := v.(string)
			if !ok {
				return doc, fmt.Errorf("document text must be a string, got %T", v)
			}
			doc.Text = s
		case "name":
			s, ok := v.(string)
			if !ok {
				return doc, fmt.Errorf("document name must be a string, got %T", v)
			}
			doc.Name = s
		case "id":
			s, ok := v.(string)
			if !ok {
				return doc, fmt.Errorf("document id must be a string, got %T", v)
			}
			doc.ID = s
		case "score":
			switch n := v.(type) {
			case float64:
				doc.Score = n
			case int:
				doc.Score = float64(n)
			default:
				return doc, fmt.Errorf("document score must be numeric, got %T", v)
			}
		default:
			return doc, fmt.Errorf("unsupported document key %q", k)
		}
	}
	return doc, nil
}
