// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package staging copies module libraries into a scratch directory before
// they are mapped, so that replacing a library on disk cannot corrupt a copy
// the process already has mapped.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/spf13/afero"
)

// Sentinel errors for programmatic error checking.
var (
	// ErrSourceNotFound is returned when the library to stage is missing or not a regular file.
	ErrSourceNotFound = errors.New("staging source not found")
	// ErrFileIO is returned when the scratch copy cannot be created or written.
	ErrFileIO = errors.New("staging file I/O error")
)

// Default unstage retry policy. A library that was just closed can keep its
// file locked for a short while on some platforms.
const (
	DefaultRemoveRetries = 3
	DefaultRemoveBackoff = 50 * time.Millisecond
)

// Required reports whether the current platform needs staging: a mapped
// library file there cannot be safely overwritten while in use.
func Required() bool {
	return runtime.GOOS == "windows"
}

// Area is a scratch directory holding staged library copies.
type Area struct {
	fs      afero.Fs
	dir     string
	retries uint64
	backoff time.Duration
}

// Option configures an Area.
type Option func(*Area)

// WithRemoveRetry sets how often and how far apart Unstage retries a failed removal.
func WithRemoveRetry(retries uint64, backoff time.Duration) Option {
	return func(a *Area) {
		a.retries = retries
		a.backoff = backoff
	}
}

// New creates a staging area rooted at dir on fs. Production callers pass
// afero.NewOsFs(), since staged paths are handed to the OS loader.
func New(fs afero.Fs, dir string, opts ...Option) *Area {
	a := &Area{
		fs:      fs,
		dir:     dir,
		retries: DefaultRemoveRetries,
		backoff: DefaultRemoveBackoff,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Dir returns the scratch directory.
func (a *Area) Dir() string {
	return a.dir
}

// Stage copies src into a uniquely named file in the scratch directory and
// returns its path. On failure no partial copy is left behind.
func (a *Area) Stage(src string) (string, error) {
	info, err := a.fs.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrSourceNotFound, src)
		}
		return "", fmt.Errorf("%w: stat %s: %w", ErrFileIO, src, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s is not a regular file", ErrSourceNotFound, src)
	}

	in, err := a.fs.Open(src)
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %w", ErrFileIO, src, err)
	}
	defer func() {
		if cerr := in.Close(); cerr != nil {
			slog.Debug("closing staging source failed", "path", src, "error", cerr)
		}
	}()

	if err := a.fs.MkdirAll(a.dir, 0o700); err != nil {
		return "", fmt.Errorf("%w: create %s: %w", ErrFileIO, a.dir, err)
	}

	out, err := afero.TempFile(a.fs, a.dir, filepath.Base(src)+".*")
	if err != nil {
		return "", fmt.Errorf("%w: allocate scratch file: %w", ErrFileIO, err)
	}
	staged := out.Name()

	if err := copyFile(out, in, info.Size()); err != nil {
		if rerr := a.fs.Remove(staged); rerr != nil && !os.IsNotExist(rerr) {
			slog.Warn("failed to remove partial staging file", "path", staged, "error", rerr)
		}
		return "", fmt.Errorf("%w: copy %s to %s: %w", ErrFileIO, src, staged, err)
	}

	slog.Debug("staged module library", "source", src, "staged", staged, "bytes", info.Size())
	return staged, nil
}

// copyFile copies exactly size bytes and closes out. out is closed on every path.
func copyFile(out afero.File, in io.Reader, size int64) error {
	n, err := io.CopyN(out, in, size)
	if err == nil && n != size {
		err = fmt.Errorf("short copy: %d of %d bytes", n, size)
	}
	if err == nil {
		err = out.Sync()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}

// Unstage removes a staged copy. A file that is already gone is not an error.
func (a *Area) Unstage(ctx context.Context, staged string) error {
	b := retry.WithMaxRetries(a.retries, retry.NewConstant(a.backoff))
	err := retry.Do(ctx, b, func(_ context.Context) error {
		err := a.fs.Remove(staged)
		if err == nil || os.IsNotExist(err) {
			return nil
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		return fmt.Errorf("%w: remove %s: %w", ErrFileIO, staged, err)
	}
	return nil
}

// CleanupResidual removes every file left in the scratch directory by a
// previous run that did not shut down cleanly. It returns the number of files
// removed.
func (a *Area) CleanupResidual() (int, error) {
	slog.Debug("cleaning module runtime directory", "dir", a.dir)

	entries, err := afero.ReadDir(a.fs, a.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: read %s: %w", ErrFileIO, a.dir, err)
	}

	var (
		removed int
		errs    []error
	)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(a.dir, entry.Name())
		if err := a.fs.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if len(errs) > 0 {
		return removed, fmt.Errorf("%w: %w", ErrFileIO, errors.Join(errs...))
	}
	return removed, nil
}
