// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/holomush/holoserv/internal/config"
	"github.com/holomush/holoserv/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the holoserv CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "holoserv",
		Short: "holoserv - IRC services daemon with loadable modules",
		Long: `holoserv is an IRC services daemon whose functionality lives in
native modules that can be loaded, reloaded and unloaded at runtime.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/holoserv/holoserv.yaml)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewCheckCmd())
	cmd.AddCommand(NewCleanupRuntimeCmd())

	return cmd
}

// loadConfig reads the configuration for cmd. The default file may be
// absent; a file named with --config must exist.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, required := configFile, true
	if path == "" {
		required = false
		defaultPath, err := xdg.ConfigFile()
		if err != nil {
			return nil, err //nolint:wrapcheck // xdg errors name the variable
		}
		path = defaultPath
	}
	return config.Load(path, required, cmd.Flags()) //nolint:wrapcheck // config errors carry codes
}

// runtimeDir returns the configured staging directory or the XDG default.
func runtimeDir(cfg *config.Config) (string, error) {
	if cfg.Modules.RuntimeDir != "" {
		return cfg.Modules.RuntimeDir, nil
	}
	return xdg.ModuleRuntimeDir() //nolint:wrapcheck // xdg errors name the variable
}
