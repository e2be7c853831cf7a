// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package dl wraps the operating system's dynamic library primitives: open a
// library file, bind a named entry symbol to a Go function variable, close the
// library.
package dl

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Sentinel errors for programmatic error checking.
var (
	// ErrNotFound is returned when the library file does not exist or is not a regular file.
	ErrNotFound = errors.New("library not found")
	// ErrSymbolMissing is returned when a library does not export a symbol.
	ErrSymbolMissing = errors.New("symbol missing")
	// ErrUnsupported is returned on platforms without dynamic library support.
	ErrUnsupported = errors.New("dynamic libraries not supported on " + runtime.GOOS)
	// ErrClosed is returned when binding against a closed library.
	ErrClosed = errors.New("library closed")
)

// LoadError reports that the OS loader rejected a library, e.g. because of
// missing dependencies or a format mismatch.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Library is an open dynamic library.
type Library interface {
	// Path returns the path the library was mapped from.
	Path() string

	// Bind resolves symbol and binds it to the function variable fnPtr
	// points at. fnPtr must be a non-nil pointer to a func variable whose
	// signature matches the exported symbol's C signature.
	Bind(symbol string, fnPtr any) error

	// Close unmaps the library. Bound functions must not be called afterwards.
	Close() error
}

// Loader opens dynamic libraries.
type Loader interface {
	Open(path string) (Library, error)
}

// Suffix is the platform file suffix of dynamic libraries.
var Suffix = suffixFor(runtime.GOOS)

func suffixFor(goos string) string {
	switch goos {
	case "windows":
		return ".dll"
	case "darwin", "ios":
		return ".dylib"
	default:
		return ".so"
	}
}

// LibraryPath returns the canonical path of the library for the named module.
func LibraryPath(dir, name string) string {
	return filepath.Join(dir, name+Suffix)
}

// checkRegular returns ErrNotFound unless path names a regular file.
func checkRegular(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return &LoadError{Path: path, Err: err}
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrNotFound, path)
	}
	return nil
}

// New returns the Loader for the current platform.
func New() Loader {
	return &systemLoader{}
}
