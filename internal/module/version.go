// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package module

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
)

// Any in a minimum version field accepts any value at that depth.
const Any = -1

// Version is a module or host build version.
type Version struct {
	Major int
	Minor int
	Patch int
}

// ParseVersion parses a major.minor.patch version string.
func ParseVersion(s string) (Version, error) {
	v, err := semver.NewVersion(s)
	if err != nil {
		return Version{}, fmt.Errorf("parse version %q: %w", s, err)
	}
	return Version{
		Major: int(v.Major()), //nolint:gosec // version fields are small
		Minor: int(v.Minor()), //nolint:gosec // version fields are small
		Patch: int(v.Patch()), //nolint:gosec // version fields are small
	}, nil
}

// MustParseVersion is ParseVersion that panics on error.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// VersionMismatchError describes a module built against a different host version.
type VersionMismatchError struct {
	Module Version
	Host   Version
}

// Newer reports whether the module was built against a newer host than this one.
func (e *VersionMismatchError) Newer() bool {
	m, h := e.Module, e.Host
	switch {
	case m.Major != h.Major:
		return m.Major > h.Major
	case m.Minor != h.Minor:
		return m.Minor > h.Minor
	default:
		return m.Patch > h.Patch
	}
}

func (e *VersionMismatchError) Error() string {
	age := "an older"
	if e.Newer() {
		age = "a newer"
	}
	if e.Module.Major == e.Host.Major && e.Module.Minor == e.Host.Minor {
		return fmt.Sprintf("module is compiled against %s version, %s, this is %s", age, e.Module, e.Host)
	}
	return fmt.Sprintf("module is compiled against %s version %d.%d, this is %s",
		age, e.Module.Major, e.Module.Minor, e.Host)
}

// CheckExact passes only when the module version equals the host version in
// every field. Any drift is treated as binary-incompatible.
func CheckExact(module, host Version) error {
	if module == host {
		return nil
	}
	return &VersionMismatchError{Module: module, Host: host}
}

// CheckMinimum verifies the host is at least the requested version. Any at
// minor or patch accepts every value at that depth. A failure is reported as
// a construction failure.
func CheckMinimum(requested, host Version) error {
	switch {
	case host.Major > requested.Major:
		return nil
	case host.Major == requested.Major:
		if requested.Minor == Any || host.Minor > requested.Minor {
			return nil
		}
		if host.Minor == requested.Minor &&
			(requested.Patch == Any || host.Patch >= requested.Patch) {
			return nil
		}
	}
	return oops.Code(CodeConstructorFailed).
		With("required", requested.String()).
		With("host", host.String()).
		Errorf("this module requires version %s - this is %s", requested, host)
}
