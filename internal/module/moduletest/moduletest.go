// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package moduletest provides an in-memory dl.Loader whose libraries are Go
// fakes of module libraries, for testing the module lifecycle without
// building native shared objects.
package moduletest

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/holomush/holoserv/internal/module/dl"
	"github.com/holomush/holoserv/pkg/modabi"
)

// Fake describes the behavior of a fake module library and records how it was used.
type Fake struct {
	Major, Minor, Patch int32
	Type                uint32
	DisplayName         string

	InitStatus   int32
	InitPanic    any
	NoInstance   bool
	ReloadStatus int32
	ReloadPanic  any
	FiniPanic    any
	LastError    string

	// Requires, when set, is reported through the requires entry point.
	Requires *[3]int32

	// Missing lists symbols the library does not export.
	Missing []string
	// NoFini is shorthand for a library without a finalizer.
	NoFini bool

	OpenErr  error
	CloseErr error

	mu      sync.Mutex
	inits   int
	finis   int
	configs []string
	actors  []string
	live    map[uintptr]bool
}

// Inits returns how many instances were constructed.
func (f *Fake) Inits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inits
}

// Finis returns how many instances were finalized.
func (f *Fake) Finis() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finis
}

// Live returns how many constructed instances were not finalized.
func (f *Fake) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

// Configs returns the configuration documents passed to reload, in order.
func (f *Fake) Configs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.configs...)
}

// Actors returns the actors passed to init, in order.
func (f *Fake) Actors() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.actors...)
}

func (f *Fake) missing(symbol string) bool {
	if f.NoFini && symbol == modabi.SymbolFini {
		return true
	}
	for _, s := range f.Missing {
		if s == symbol {
			return true
		}
	}
	return false
}

// Loader is an in-memory dl.Loader. Libraries are looked up by module name,
// which is the file name up to the platform suffix, so staged copies resolve
// to the same fake.
type Loader struct {
	mu     sync.Mutex
	fakes  map[string]*Fake
	open   map[*library]bool
	nextID uintptr
	opened []string
	closes int
}

// NewLoader creates an empty fake loader.
func NewLoader() *Loader {
	return &Loader{
		fakes: make(map[string]*Fake),
		open:  make(map[*library]bool),
	}
}

// Add registers a fake library for the named module and returns it.
func (l *Loader) Add(name string, f *Fake) *Fake {
	l.mu.Lock()
	defer l.mu.Unlock()

	f.live = make(map[uintptr]bool)
	l.fakes[name] = f
	return f
}

// OpenHandles returns how many libraries are currently open.
func (l *Loader) OpenHandles() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.open)
}

// Opened returns every path passed to Open, in order.
func (l *Loader) Opened() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.opened...)
}

// Closes returns how many libraries were closed.
func (l *Loader) Closes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closes
}

func moduleName(path string) string {
	base := filepath.Base(path)
	name, _, _ := strings.Cut(base, dl.Suffix)
	return name
}

// Open implements dl.Loader.
func (l *Loader) Open(path string) (dl.Library, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.opened = append(l.opened, path)
	f, ok := l.fakes[moduleName(path)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", dl.ErrNotFound, path)
	}
	if f.OpenErr != nil {
		return nil, &dl.LoadError{Path: path, Err: f.OpenErr}
	}
	lib := &library{loader: l, fake: f, path: path}
	l.open[lib] = true
	return lib, nil
}

func (l *Loader) instanceID() uintptr {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	return l.nextID
}

type library struct {
	loader *Loader
	fake   *Fake
	path   string
	closed bool
}

func (lib *library) Path() string { return lib.path }

func (lib *library) Close() error {
	l := lib.loader
	l.mu.Lock()
	defer l.mu.Unlock()

	if lib.closed {
		return nil
	}
	lib.closed = true
	delete(l.open, lib)
	l.closes++
	return lib.fake.CloseErr
}

// Bind implements dl.Library by assigning Go implementations of the entry points.
func (lib *library) Bind(symbol string, fnPtr any) error {
	f := lib.fake
	if lib.closed {
		return dl.ErrClosed
	}
	if f.missing(symbol) {
		return fmt.Errorf("%w: %s in %s", dl.ErrSymbolMissing, symbol, lib.path)
	}

	var ok bool
	switch symbol {
	case modabi.SymbolInit:
		var p *func(string, string, *uintptr) int32
		if p, ok = fnPtr.(*func(string, string, *uintptr) int32); ok {
			*p = lib.init
		}
	case modabi.SymbolVersion:
		var p *func(uintptr, *int32, *int32, *int32)
		if p, ok = fnPtr.(*func(uintptr, *int32, *int32, *int32)); ok {
			*p = func(_ uintptr, major, minor, patch *int32) {
				*major, *minor, *patch = f.Major, f.Minor, f.Patch
			}
		}
	case modabi.SymbolType:
		var p *func(uintptr) uint32
		if p, ok = fnPtr.(*func(uintptr) uint32); ok {
			*p = func(uintptr) uint32 { return f.Type }
		}
	case modabi.SymbolName:
		var p *func(uintptr) string
		if p, ok = fnPtr.(*func(uintptr) string); ok {
			*p = func(uintptr) string { return f.DisplayName }
		}
	case modabi.SymbolReload:
		var p *func(uintptr, string) int32
		if p, ok = fnPtr.(*func(uintptr, string) int32); ok {
			*p = lib.reload
		}
	case modabi.SymbolLastError:
		var p *func() string
		if p, ok = fnPtr.(*func() string); ok {
			*p = func() string { return f.LastError }
		}
	case modabi.SymbolRequires:
		if f.Requires == nil {
			return fmt.Errorf("%w: %s in %s", dl.ErrSymbolMissing, symbol, lib.path)
		}
		var p *func(*int32, *int32, *int32) int32
		if p, ok = fnPtr.(*func(*int32, *int32, *int32) int32); ok {
			*p = func(major, minor, patch *int32) int32 {
				*major, *minor, *patch = f.Requires[0], f.Requires[1], f.Requires[2]
				return 1
			}
		}
	case modabi.SymbolFini:
		var p *func(uintptr)
		if p, ok = fnPtr.(*func(uintptr)); ok {
			*p = lib.fini
		}
	default:
		return fmt.Errorf("%w: %s in %s", dl.ErrSymbolMissing, symbol, lib.path)
	}
	if !ok {
		return fmt.Errorf("moduletest: %s bound to unexpected type %T", symbol, fnPtr)
	}
	return nil
}

func (lib *library) init(_ string, actor string, instance *uintptr) int32 {
	f := lib.fake
	if f.InitPanic != nil {
		panic(f.InitPanic)
	}
	if f.InitStatus != modabi.StatusOK {
		return f.InitStatus
	}
	if f.NoInstance {
		return modabi.StatusOK
	}
	id := lib.loader.instanceID()

	f.mu.Lock()
	f.inits++
	f.actors = append(f.actors, actor)
	f.live[id] = true
	f.mu.Unlock()

	*instance = id
	return modabi.StatusOK
}

func (lib *library) reload(_ uintptr, config string) int32 {
	f := lib.fake
	if f.ReloadPanic != nil {
		panic(f.ReloadPanic)
	}
	f.mu.Lock()
	f.configs = append(f.configs, config)
	f.mu.Unlock()
	return f.ReloadStatus
}

func (lib *library) fini(instance uintptr) {
	f := lib.fake
	f.mu.Lock()
	f.finis++
	delete(f.live, instance)
	f.mu.Unlock()
	if f.FiniPanic != nil {
		panic(f.FiniPanic)
	}
}
