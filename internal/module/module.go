// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package module loads, version-gates, registers and tears down modules
// backed by native shared libraries while the services daemon keeps running.
package module

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/holomush/holoserv/internal/module/dl"
	"github.com/holomush/holoserv/pkg/modabi"
)

// Type is a bitmask classifying a module. It orders bulk unloading: modules
// whose highest type bit is lower are unloaded first.
type Type uint32

// Module type bits.
const (
	TypeThird        = Type(modabi.TypeThird)
	TypeSupported    = Type(modabi.TypeSupported)
	TypeCore         = Type(modabi.TypeCore)
	TypeDatabase     = Type(modabi.TypeDatabase)
	TypeEncryption   = Type(modabi.TypeEncryption)
	TypeProtocol     = Type(modabi.TypeProtocol)
	TypeSocketEngine = Type(modabi.TypeSocketEngine)
)

var typeNames = []struct {
	bit  Type
	name string
}{
	{TypeThird, "third"},
	{TypeSupported, "supported"},
	{TypeCore, "core"},
	{TypeDatabase, "database"},
	{TypeEncryption, "encryption"},
	{TypeProtocol, "protocol"},
	{TypeSocketEngine, "socketengine"},
}

func (t Type) String() string {
	if t == 0 {
		return "none"
	}
	var parts []string
	rest := t
	for _, tn := range typeNames {
		if t&tn.bit != 0 {
			parts = append(parts, tn.name)
			rest &^= tn.bit
		}
	}
	if rest != 0 {
		parts = append(parts, "other")
	}
	return strings.Join(parts, "|")
}

// State is a module's lifecycle state.
type State int32

// Module lifecycle states.
const (
	StateLoading State = iota
	StateActive
	StateUnloading
	StateUnloaded
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateActive:
		return "active"
	case StateUnloading:
		return "unloading"
	case StateUnloaded:
		return "unloaded"
	default:
		return "unknown"
	}
}

// Module is a loaded unit of functionality. Its library handle and staged
// file are owned by the Manager that loaded it.
type Module struct {
	id          ulid.ULID
	name        string
	displayName string
	creator     string
	typ         Type
	version     Version
	backingPath string
	staged      bool
	loadedAt    time.Time
	state       atomic.Int32

	lib      dl.Library
	abi      *entryPoints
	instance uintptr
}

func newModule(name, creator string) *Module {
	m := &Module{
		id:      ulid.Make(),
		name:    name,
		creator: creator,
	}
	m.setState(StateLoading)
	return m
}

// ID identifies this load of the module.
func (m *Module) ID() ulid.ULID { return m.id }

// Name returns the name the module was loaded under.
func (m *Module) Name() string { return m.name }

// DisplayName returns the name the module reports for itself.
func (m *Module) DisplayName() string {
	if m.displayName == "" {
		return m.name
	}
	return m.displayName
}

// Creator returns the actor that loaded the module, empty for the system.
func (m *Module) Creator() string { return m.creator }

// Type returns the module's type bitmask.
func (m *Module) Type() Type { return m.typ }

// Version returns the host version the module was built against.
func (m *Module) Version() Version { return m.version }

// BackingPath returns the file the OS loader mapped, which is a staged copy
// when staging is enabled.
func (m *Module) BackingPath() string { return m.backingPath }

// Staged reports whether BackingPath is a staged scratch copy still on disk.
func (m *Module) Staged() bool { return m.staged }

// LoadedAt returns when the module became active.
func (m *Module) LoadedAt() time.Time { return m.loadedAt }

// State returns the module's lifecycle state.
func (m *Module) State() State { return State(m.state.Load()) }

func (m *Module) setState(s State) { m.state.Store(int32(s)) }

// Handle reports whether the module currently holds an open library.
func (m *Module) Handle() bool { return m.lib != nil }
