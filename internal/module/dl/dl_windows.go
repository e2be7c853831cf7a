// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build windows

package dl

import (
	"fmt"
	"syscall"

	"github.com/ebitengine/purego"
)

type systemLoader struct{}

// Open maps the library at path with LoadLibrary.
func (systemLoader) Open(path string) (Library, error) {
	if err := checkRegular(path); err != nil {
		return nil, err
	}
	dll, err := syscall.LoadDLL(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return &dllLibrary{dll: dll, path: path}, nil
}

// dllLibrary is a library opened with LoadLibrary.
type dllLibrary struct {
	dll  *syscall.DLL
	path string
}

func (l *dllLibrary) Path() string { return l.path }

func (l *dllLibrary) Bind(symbol string, fnPtr any) error {
	if l.dll == nil {
		return ErrClosed
	}
	proc, err := l.dll.FindProc(symbol)
	if err != nil {
		return fmt.Errorf("%w: %s in %s", ErrSymbolMissing, symbol, l.path)
	}
	purego.RegisterFunc(fnPtr, proc.Addr())
	return nil
}

func (l *dllLibrary) Close() error {
	if l.dll == nil {
		return nil
	}
	dll := l.dll
	l.dll = nil
	if err := dll.Release(); err != nil {
		return fmt.Errorf("FreeLibrary %s: %w", l.path, err)
	}
	return nil
}
