/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package llmobs

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the SDK version reported on evaluation metric tags and in the
// delivery payloads.
const Version = "0.3.0"

// Config carries the service configuration. Fields are resolved from the
// environment by New and may be overridden with functional options.
type Config struct {
	// MLApp is the name of the ML application. Required to enable the service.
	MLApp string `env:"LLMOBS_ML_APP"`

	// APIKey authenticates against the collector intake. Required only in
	// agentless mode.
	APIKey string `env:"LLMOBS_API_KEY"`

	// Site is the collector region/site, e.g. "us1.collector.example.com".
	// Required only in agentless mode.
	Site string `env:"LLMOBS_SITE"`

	// Agentless selects direct intake delivery instead of routing through a
	// local agent.
	Agentless bool `env:"LLMOBS_AGENTLESS_ENABLED,default=false"`

	// AgentURL is the base URL of the local agent used when Agentless is false.
	AgentURL string `env:"LLMOBS_AGENT_URL,default=http://localhost:8126"`

	// Enabled gates Enable entirely: when false, Enable is a logged no-op.
	Enabled bool `env:"LLMOBS_ENABLED,default=true"`

	// Integrations controls whether registered integration patches are applied
	// at enable time.
	Integrations bool `env:"LLMOBS_INTEGRATIONS_ENABLED,default=true"`

	// Env and Service label emitted span records.
	Env     string `env:"LLMOBS_ENV"`
	Service string `env:"LLMOBS_SERVICE"`

	// WriterInterval is the background flush cadence of both writers.
	WriterInterval time.Duration `env:"LLMOBS_WRITER_INTERVAL,default=1s"`

	// WriterTimeout bounds a single delivery attempt.
	WriterTimeout time.Duration `env:"LLMOBS_WRITER_TIMEOUT,default=5s"`
}

// validate checks the settings that are mandatory at enable time.
func (c Config) validate() error {
	if c.MLApp == "" {
		return errors.New("LLMOBS_ML_APP is required for sending LLM observability data; set it before enabling the service")
	}
	if c.Agentless {
		if c.APIKey == "" {
			return errors.New("LLMOBS_API_KEY is required when agentless mode is enabled")
		}
		if c.Site == "" {
			return errors.New("LLMOBS_SITE is required when agentless mode is enabled")
		}
	}
	return nil
}

// spanEndpoint returns the URL the span writer delivers to.
func (c Config) spanEndpoint() string {
	if c.Agentless {
		return fmt.Sprintf("https://llmobs-intake.%s/api/v2/llmobs/spans", c.Site)
	}
	return strings.TrimSuffix(c.AgentURL, "/") + "/llmobs/v2/spans"
}

// evalEndpoint returns the URL the evaluation metric writer delivers to.
func (c Config) evalEndpoint() string {
	if c.Agentless {
		return fmt.Sprintf("https://api.%s/api/v2/llmobs/eval-metric", c.Site)
	}
	return strings.TrimSuffix(c.AgentURL, "/") + "/llmobs/v2/eval-metric"
}
