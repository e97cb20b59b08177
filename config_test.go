/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package llmobs

import "testing"

func TestSpanEndpoint(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{{
		name: "agent mode",
		cfg:  Config{AgentURL: "http://localhost:8126"},
		want: "http://localhost:8126/llmobs/v2/spans",
	}, {
		name: "agent mode trailing slash",
		cfg:  Config{AgentURL: "http://localhost:8126/"},
		want: "http://localhost:8126/llmobs/v2/spans",
	}, {
		name: "agentless",
		cfg:  Config{Agentless: true, Site: "us1.example.com"},
		want: "https://llmobs-intake.us1.example.com/api/v2/llmobs/spans",
	}}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cfg.spanEndpoint(); got != tc.want {
				t.Errorf("span endpoint: got = %q, wanted = %q", got, tc.want)
			}
		})
	}
}

func TestEvalEndpoint(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{{
		name: "agent mode",
		cfg:  Config{AgentURL: "http://localhost:8126"},
		want: "http://localhost:8126/llmobs/v2/eval-metric",
	}, {
		name: "agentless",
		cfg:  Config{Agentless: true, Site: "us1.example.com"},
		want: "https://api.us1.example.com/api/v2/llmobs/eval-metric",
	}}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cfg.evalEndpoint(); got != tc.want {
				t.Errorf("eval endpoint: got = %q, wanted = %q", got, tc.want)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{{
		name: "agent mode needs only ml app",
		cfg:  Config{MLApp: "a"},
	}, {
		name:    "missing ml app",
		cfg:     Config{},
		wantErr: true,
	}, {
		name: "agentless complete",
		cfg:  Config{MLApp: "a", Agentless: true, APIKey: "k", Site: "s"},
	}, {
		name:    "agentless missing key",
		cfg:     Config{MLApp: "a", Agentless: true, Site: "s"},
		wantErr: true,
	}, {
		name:    "agentless missing site",
		cfg:     Config{MLApp: "a", Agentless: true, APIKey: "k"},
		wantErr: true,
	}}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("validate: got = %v, wanted error = %t", err, tc.wantErr)
			}
		})
	}
}
