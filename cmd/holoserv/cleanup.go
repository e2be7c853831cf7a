// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/holomush/holoserv/internal/module/staging"
)

// NewCleanupRuntimeCmd creates the cleanup-runtime subcommand.
func NewCleanupRuntimeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup-runtime",
		Short: "Remove staged module files left by an unclean shutdown",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCleanupWithDeps(cmd, nil)
		},
	}
}

func runCleanupWithDeps(cmd *cobra.Command, deps *RunDeps) error {
	if deps == nil {
		deps = &RunDeps{}
	}
	deps.applyDefaults()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	dir, err := runtimeDir(cfg)
	if err != nil {
		return fmt.Errorf("failed to resolve runtime directory: %w", err)
	}

	removed, err := staging.New(deps.FS, dir).CleanupResidual()
	if err != nil {
		return fmt.Errorf("failed to clean %s: %w", dir, err)
	}
	cmd.Printf("removed %d staged module files from %s\n", removed, dir)
	return nil
}
