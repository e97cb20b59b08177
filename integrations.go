/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package llmobs

import (
	"context"
	"sync"

	"github.com/chainguard-dev/clog"
)

// Integration patches live outside this module; vendors register a patch
// function here and Enable applies it when integrations are on. A failing
// patch is logged and skipped, never fatal to Enable.

var (
	integrationsMu sync.Mutex
	integrations   = map[string]func(context.Context, *Service) error{}
)

// RegisterIntegration registers a patch function applied at enable time.
// Typically called from an integration package's init.
func RegisterIntegration(name string, patch func(context.Context, *Service) error) {
	integrationsMu.Lock()
	defer integrationsMu.Unlock()
	integrations[name] = patch
}

func patchIntegrations(ctx context.Context, s *Service) {
	integrationsMu.Lock()
	patches := make(map[string]func(context.Context, *Service) error, len(integrations))
	for name, patch := range integrations {
		patches[name] = patch
	}
	integrationsMu.Unlock()

	log := clog.FromContext(ctx)
	for name, patch := range patches {
		if err := patch(ctx, s); err != nil {
			log.With("integration", name, "error", err.Error()).Warn("Failed to patch integration")
			continue
		}
		log.With("integration", name).Debug("Patched integration")
	}
}
