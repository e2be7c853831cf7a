// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/holomush/holoserv/internal/config"
	"github.com/holomush/holoserv/internal/logging"
	"github.com/holomush/holoserv/internal/module"
	"github.com/holomush/holoserv/internal/module/dl"
	"github.com/holomush/holoserv/internal/module/staging"
	"github.com/holomush/holoserv/internal/observability"
	"github.com/holomush/holoserv/pkg/errutil"
	"github.com/holomush/holoserv/pkg/modabi"
)

const serviceName = "holoserv"

// NewRunCmd creates the run subcommand.
func NewRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the services daemon",
		Long: `Start the services daemon: load the configured modules and keep
running until interrupted. SIGHUP re-reads the configuration, loads and
unloads modules to match modules.autoload and passes the new configuration
to every loaded module.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithDeps(cmd.Context(), cmd, nil)
		},
	}
}

func (deps *RunDeps) applyDefaults() {
	if deps.LoaderFactory == nil {
		deps.LoaderFactory = dl.New
	}
	if deps.FS == nil {
		deps.FS = afero.NewOsFs()
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, register ...observability.RegisterFunc) ObservabilityServer {
			return observability.NewServer(addr, ready, register...)
		}
	}
	if deps.SignalNotify == nil {
		deps.SignalNotify = signal.Notify
	}
	if deps.SignalStop == nil {
		deps.SignalStop = signal.Stop
	}
	if deps.LogWriter == nil {
		deps.LogWriter = os.Stderr
	}
}

// setupLogger builds the daemon logger from cfg and installs it as default.
func setupLogger(cfg *config.Config, deps *RunDeps) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logger := logging.Setup(serviceName, version, cfg.Log.Format, level, deps.LogWriter)
	slog.SetDefault(logger)
	return logger, nil
}

// newManager builds a module manager for cfg. The returned staging area is
// the one the manager stages through, or nil when staging is disabled.
func newManager(cfg *config.Config, deps *RunDeps, logger *slog.Logger) (*module.Manager, *staging.Area, error) {
	opts := []module.ManagerOption{
		module.WithLoader(deps.LoaderFactory()),
		module.WithConfig(cfg),
		module.WithLogger(logger),
	}

	var area *staging.Area
	if cfg.StagingEnabled(staging.Required()) {
		dir, err := runtimeDir(cfg)
		if err != nil {
			return nil, nil, err
		}
		area = staging.New(deps.FS, dir)
		opts = append(opts, module.WithStaging(area))
	}

	return module.NewManager(cfg.Modules.Dir, module.NewRegistry(), opts...), area, nil
}

// runWithDeps runs the daemon with injectable dependencies.
// If deps is nil, default implementations are used.
func runWithDeps(ctx context.Context, cmd *cobra.Command, deps *RunDeps) error {
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

	mgr, area, err := newManager(cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("failed to set up module manager: %w", err)
	}
	if area != nil {
		removed, cleanErr := area.CleanupResidual()
		if cleanErr != nil {
			errutil.LogError(logger, "failed to clean module runtime directory", cleanErr, "dir", area.Dir())
		} else if removed > 0 {
			logger.Info("removed stale staged modules", "dir", area.Dir(), "count", removed)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var ready atomic.Bool
	var obsServer ObservabilityServer
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, ready.Load,
			module.RegisterMetrics,
			observability.BuildInfo(version, modabi.HostVersion),
		)
		obsErrChan, startErr := obsServer.Start()
		if startErr != nil {
			return fmt.Errorf("failed to start observability server: %w", startErr)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	sigChan := make(chan os.Signal, 1)
	deps.SignalNotify(sigChan, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer deps.SignalStop(sigChan)

	autoload := slices.Clone(cfg.Modules.Autoload)
	reconcile(ctx, mgr, logger, nil, autoload)
	ready.Store(true)

	cmd.Println("holoserv started")
	logger.Info("services ready",
		"server", cfg.Server.Name,
		"modules", mgr.Registry().Len(),
		"host_version", mgr.HostVersion().String(),
	)

wait:
	for {
		select {
		case sig := <-sigChan:
			if sig != syscall.SIGHUP {
				logger.Info("received shutdown signal", "signal", sig)
				break wait
			}
			logger.Info("received rehash signal")
			autoload = rehash(ctx, cmd, mgr, logger, autoload)
		case <-ctx.Done():
			logger.Info("context cancelled, shutting down")
			break wait
		}
	}

	ready.Store(false)
	logger.Info("shutting down...")
	if err := mgr.UnloadAll(context.WithoutCancel(ctx)); err != nil {
		errutil.LogError(logger, "failed to unload modules", err)
	}

	if obsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// rehash re-reads the configuration, hands it to every loaded module and
// then reconciles the loaded modules with the new autoload list, so newly
// loaded modules start with the new configuration. On a configuration error
// the running state is kept. It returns the autoload list now in effect.
func rehash(ctx context.Context, cmd *cobra.Command, mgr *module.Manager, logger *slog.Logger, previous []string) []string {
	cfg, err := loadConfig(cmd)
	if err != nil {
		errutil.LogError(logger, "rehash aborted, keeping current configuration", err)
		return previous
	}

	if err := mgr.Rehash(ctx, cfg); err != nil {
		errutil.LogError(logger, "some modules rejected the new configuration", err)
	}

	desired := slices.Clone(cfg.Modules.Autoload)
	reconcile(ctx, mgr, logger, previous, desired)
	return desired
}

// reconcile unloads modules dropped from the autoload list and loads those
// newly listed. Failures are logged and do not stop the rest.
func reconcile(ctx context.Context, mgr *module.Manager, logger *slog.Logger, previous, desired []string) {
	for _, name := range previous {
		if containsFold(desired, name) {
			continue
		}
		mod := mgr.Find(name)
		if mod == nil {
			continue
		}
		if err := mgr.Unload(ctx, mod, ""); err != nil {
			errutil.LogError(logger, "failed to unload module", err, "module", name)
		}
	}

	for _, name := range desired {
		if mgr.Find(name) != nil {
			continue
		}
		if _, err := mgr.Load(ctx, name, ""); err != nil {
			errutil.LogError(logger, "failed to autoload module", err,
				"module", name, "result", module.ResultOf(err).String())
		}
	}
}

func containsFold(names []string, name string) bool {
	return slices.ContainsFunc(names, func(n string) bool {
		return strings.EqualFold(n, name)
	})
}

// monitorServerErrors monitors a server's error channel and cancels the context on error.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
