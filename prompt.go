/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package llmobs

import "errors"

// Prompt describes the prompt template behind an LLM call. It is validated
// at annotation time, serialized onto the span, and never re-parsed here.
type Prompt struct {
	Template  string            `json:"template,omitempty"`
	ID        string            `json:"id,omitempty"`
	Version   string            `json:"version,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
}

func (p *Prompt) validate() error {
	if p == nil {
		return errors.New("prompt must not be nil")
	}
	if p.Template == "" && p.ID == "" {
		return errors.New("prompt must carry a template or an id")
	}
	return nil
}
