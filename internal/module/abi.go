// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package module

import (
	"errors"
	"fmt"

	"github.com/holomush/holoserv/internal/module/dl"
	"github.com/holomush/holoserv/pkg/modabi"
)

// errNoEntryPoint is returned when a symbol binds to a nil function.
var errNoEntryPoint = errors.New("entry point bound to nil")

// entryPoints is the typed view of a module library's exported functions.
// Optional entry points are nil when the library does not export them.
type entryPoints struct {
	init    func(name, actor string, instance *uintptr) int32
	version func(instance uintptr, major, minor, patch *int32)
	typ     func(instance uintptr) uint32
	name    func(instance uintptr) string
	reload  func(instance uintptr, config string) int32

	lastError func() string
	requires  func(major, minor, patch *int32) int32
	fini      func(instance uintptr)
}

// resolveEntryPoints binds every entry point of lib. It is the only place
// untyped symbols are turned into callable functions.
func resolveEntryPoints(lib dl.Library) (*entryPoints, error) {
	ep := &entryPoints{}

	required := []struct {
		symbol string
		fn     any
		bound  func() bool
	}{
		{modabi.SymbolInit, &ep.init, func() bool { return ep.init != nil }},
		{modabi.SymbolVersion, &ep.version, func() bool { return ep.version != nil }},
		{modabi.SymbolType, &ep.typ, func() bool { return ep.typ != nil }},
		{modabi.SymbolName, &ep.name, func() bool { return ep.name != nil }},
		{modabi.SymbolReload, &ep.reload, func() bool { return ep.reload != nil }},
	}
	for _, r := range required {
		if err := lib.Bind(r.symbol, r.fn); err != nil {
			return nil, err //nolint:wrapcheck // dl errors already name the symbol
		}
		if !r.bound() {
			return nil, fmt.Errorf("%w: %s: %w", dl.ErrSymbolMissing, r.symbol, errNoEntryPoint)
		}
	}

	optional := []struct {
		symbol string
		fn     any
	}{
		{modabi.SymbolLastError, &ep.lastError},
		{modabi.SymbolRequires, &ep.requires},
		{modabi.SymbolFini, &ep.fini},
	}
	for _, o := range optional {
		if err := lib.Bind(o.symbol, o.fn); err != nil && !errors.Is(err, dl.ErrSymbolMissing) {
			return nil, err //nolint:wrapcheck // dl errors already name the symbol
		}
	}

	return ep, nil
}

// guard converts a panic raised by module code into an error.
func guard(call string, err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%s panicked: %v", call, r)
	}
}

// failure describes a non-OK status, including the module's last error when exported.
func (ep *entryPoints) failure(call string, status int32) error {
	if ep.lastError != nil {
		if msg := ep.lastError(); msg != "" {
			return fmt.Errorf("%s returned status %d: %s", call, status, msg)
		}
	}
	return fmt.Errorf("%s returned status %d", call, status)
}

// construct calls the module's init entry point.
func (ep *entryPoints) construct(name, actor string) (instance uintptr, err error) {
	defer guard(modabi.SymbolInit, &err)

	if status := ep.init(name, actor, &instance); status != modabi.StatusOK {
		return 0, ep.failure(modabi.SymbolInit, status)
	}
	if instance == 0 {
		return 0, fmt.Errorf("%s returned no instance", modabi.SymbolInit)
	}
	return instance, nil
}

// describe reads the constructed instance's version, type and display name.
func (ep *entryPoints) describe(instance uintptr) (v Version, t Type, name string, err error) {
	defer guard("module accessors", &err)

	var major, minor, patch int32
	ep.version(instance, &major, &minor, &patch)
	v = Version{Major: int(major), Minor: int(minor), Patch: int(patch)}
	t = Type(ep.typ(instance))
	name = ep.name(instance)
	return v, t, name, nil
}

// minimum returns the host version the library requires, if it declares one.
func (ep *entryPoints) minimum() (v Version, ok bool, err error) {
	if ep.requires == nil {
		return Version{}, false, nil
	}
	defer guard(modabi.SymbolRequires, &err)

	var major, minor, patch int32
	if ep.requires(&major, &minor, &patch) == 0 {
		return Version{}, false, nil
	}
	return Version{Major: int(major), Minor: int(minor), Patch: int(patch)}, true, nil
}

// configure calls the module's reload entry point with a configuration document.
func (ep *entryPoints) configure(instance uintptr, config []byte) (err error) {
	defer guard(modabi.SymbolReload, &err)

	switch status := ep.reload(instance, string(config)); status {
	case modabi.StatusOK:
		return nil
	case modabi.StatusConfigError:
		return fmt.Errorf("configuration rejected: %w", ep.failure(modabi.SymbolReload, status))
	default:
		return ep.failure(modabi.SymbolReload, status)
	}
}

// finalize calls the module's fini entry point.
func (ep *entryPoints) finalize(instance uintptr) (err error) {
	defer guard(modabi.SymbolFini, &err)
	ep.fini(instance)
	return nil
}
