// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build !(darwin || freebsd || linux || windows)

package dl

type systemLoader struct{}

func (systemLoader) Open(path string) (Library, error) {
	if err := checkRegular(path); err != nil {
		return nil, err
	}
	return nil, &LoadError{Path: path, Err: ErrUnsupported}
}
