// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"fmt"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/holoserv/internal/module"
	"github.com/holomush/holoserv/pkg/errutil"
)

// NewCheckCmd creates the check subcommand.
func NewCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check NAME...",
		Short: "Verify that modules load against this build",
		Long: `Load each named module into a private module manager and unload it
again, reporting the result per module. Exits non-zero if any module fails.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckWithDeps(cmd.Context(), cmd, args, nil)
		},
	}
}

func runCheckWithDeps(ctx context.Context, cmd *cobra.Command, names []string, deps *RunDeps) error {
	if deps == nil {
		deps = &RunDeps{}
	}
	deps.applyDefaults()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger, err := setupLogger(cfg, deps)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	mgr, _, err := newManager(cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("failed to set up module manager: %w", err)
	}

	failed := 0
	for _, name := range names {
		mod, loadErr := mgr.Load(ctx, name, "")
		if loadErr != nil {
			failed++
			cmd.Printf("%s: %s: %v\n", name, module.ResultOf(loadErr), loadErr)
			continue
		}
		cmd.Printf("%s: ok (%s, type %s, version %s)\n",
			mod.Name(), mod.DisplayName(), mod.Type(), mod.Version())

		if unloadErr := mgr.Unload(ctx, mod, ""); unloadErr != nil {
			errutil.LogError(logger, "failed to unload checked module", unloadErr, "module", name)
		}
	}

	if failed > 0 {
		return oops.Code("CHECK_FAILED").
			With("failed", failed).
			Errorf("%d of %d modules failed to load", failed, len(names))
	}
	return nil
}
