// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package module

import (
	"context"

	"github.com/holomush/holoserv/pkg/errutil"
)

// teardown releases everything a module holds: its instance, its library and
// its staged file. Every step runs even if an earlier one failed, and nothing
// is escalated.
func (m *Manager) teardown(ctx context.Context, mod *Module) {
	log := m.logger.With("module", mod.name)
	log.Debug("unloading module")

	if mod.abi != nil && mod.instance != 0 {
		if mod.abi.fini != nil {
			if err := mod.abi.finalize(mod.instance); err != nil {
				errutil.LogError(log, "module finalizer failed", err)
			}
		} else {
			log.Warn("no destroy function found, releasing instance directly")
		}
	}
	mod.instance = 0
	mod.abi = nil

	if mod.lib != nil {
		if err := mod.lib.Close(); err != nil {
			errutil.LogError(log, "failed to close module library", err)
		}
		mod.lib = nil
	}

	if mod.staged {
		if err := m.stager.Unstage(ctx, mod.backingPath); err != nil {
			errutil.LogError(log, "failed to remove staged module file", err, "path", mod.backingPath)
		}
		mod.staged = false
	}

	mod.setState(StateUnloaded)
}
