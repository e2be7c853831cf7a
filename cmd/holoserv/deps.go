// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"io"
	"os"

	"github.com/spf13/afero"

	"github.com/holomush/holoserv/internal/module/dl"
	"github.com/holomush/holoserv/internal/observability"
)

// RunDeps contains injectable dependencies for the run, check and
// cleanup-runtime commands. All fields with nil values will use their
// default implementations.
type RunDeps struct {
	// LoaderFactory creates the dynamic library loader.
	// Default: dl.New
	LoaderFactory func() dl.Loader

	// FS holds the module staging area.
	// Default: afero.NewOsFs
	FS afero.Fs

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker, register ...observability.RegisterFunc) ObservabilityServer

	// SignalNotify relays process signals to c.
	// Default: signal.Notify
	SignalNotify func(c chan<- os.Signal, sig ...os.Signal)

	// SignalStop stops relaying signals to c.
	// Default: signal.Stop
	SignalStop func(c chan<- os.Signal)

	// LogWriter receives log output.
	// Default: os.Stderr
	LogWriter io.Writer
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}
