// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package module

import (
	"context"
)

// Observer is notified about module lifecycle transitions.
//
// Observers run inside the loader transaction. Load, Unload, UnloadAll and
// Rehash called while an observer runs fail with CodeReentrant, whichever
// context they are given. Observers that need to change the module set must
// hand the work to another goroutine that retries after the callback returns.
type Observer interface {
	// ModuleLoaded is called after a module is registered as active.
	ModuleLoaded(ctx context.Context, actor string, m *Module)

	// ModuleUnloading is called before a module is torn down, while it is
	// still fully usable.
	ModuleUnloading(ctx context.Context, actor string, m *Module)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Loaded    func(ctx context.Context, actor string, m *Module)
	Unloading func(ctx context.Context, actor string, m *Module)
}

// ModuleLoaded implements Observer.
func (o ObserverFuncs) ModuleLoaded(ctx context.Context, actor string, m *Module) {
	if o.Loaded != nil {
		o.Loaded(ctx, actor, m)
	}
}

// ModuleUnloading implements Observer.
func (o ObserverFuncs) ModuleUnloading(ctx context.Context, actor string, m *Module) {
	if o.Unloading != nil {
		o.Unloading(ctx, actor, m)
	}
}

type loaderCallKey struct{}

// withinLoader marks ctx as belonging to a loader callback.
func withinLoader(ctx context.Context) context.Context {
	return context.WithValue(ctx, loaderCallKey{}, true)
}

// inLoader reports whether ctx was handed out by a loader callback.
func inLoader(ctx context.Context) bool {
	v, _ := ctx.Value(loaderCallKey{}).(bool)
	return v
}
