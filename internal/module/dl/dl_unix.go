// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build darwin || freebsd || linux

package dl

import (
	"fmt"

	"github.com/ebitengine/purego"
)

type systemLoader struct{}

// Open maps the library at path with immediate symbol binding.
func (systemLoader) Open(path string) (Library, error) {
	if err := checkRegular(path); err != nil {
		return nil, err
	}
	h, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return &sharedLibrary{handle: h, path: path}, nil
}

// sharedLibrary is a library opened with dlopen.
type sharedLibrary struct {
	handle uintptr
	path   string
}

func (l *sharedLibrary) Path() string { return l.path }

func (l *sharedLibrary) Bind(symbol string, fnPtr any) error {
	if l.handle == 0 {
		return ErrClosed
	}
	addr, err := purego.Dlsym(l.handle, symbol)
	if err != nil || addr == 0 {
		return fmt.Errorf("%w: %s in %s", ErrSymbolMissing, symbol, l.path)
	}
	purego.RegisterFunc(fnPtr, addr)
	return nil
}

func (l *sharedLibrary) Close() error {
	if l.handle == 0 {
		return nil
	}
	h := l.handle
	l.handle = 0
	if err := purego.Dlclose(h); err != nil {
		return fmt.Errorf("dlclose %s: %w", l.path, err)
	}
	return nil
}
