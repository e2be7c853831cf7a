// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package module_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/holoserv/internal/module"
	"github.com/holomush/holoserv/pkg/errutil"
	"github.com/holomush/holoserv/pkg/modabi"
)

func TestParseVersion(t *testing.T) {
	v, err := module.ParseVersion("2.1.0")
	require.NoError(t, err)
	assert.Equal(t, module.Version{Major: 2, Minor: 1, Patch: 0}, v)
	assert.Equal(t, "2.1.0", v.String())

	v, err = module.ParseVersion("v1.9")
	require.NoError(t, err)
	assert.Equal(t, module.Version{Major: 1, Minor: 9}, v)

	_, err = module.ParseVersion("not-a-version")
	assert.Error(t, err)
}

func TestHostVersionParses(t *testing.T) {
	assert.NotPanics(t, func() { module.MustParseVersion(modabi.HostVersion) })
}

// perturbations returns every version differing from host in exactly one
// field, by one, two or three steps in each direction.
func perturbations(host module.Version) []module.Version {
	var out []module.Version
	for _, delta := range []int{-3, -2, -1, 1, 2, 3} {
		out = append(out,
			module.Version{Major: host.Major + delta, Minor: host.Minor, Patch: host.Patch},
			module.Version{Major: host.Major, Minor: host.Minor + delta, Patch: host.Patch},
			module.Version{Major: host.Major, Minor: host.Minor, Patch: host.Patch + delta},
		)
	}
	return out
}

func TestCheckExact(t *testing.T) {
	host := module.Version{Major: 5, Minor: 5, Patch: 5}

	require.NoError(t, module.CheckExact(host, host))

	cases := perturbations(host)
	require.Len(t, cases, 18)
	for _, v := range cases {
		t.Run(v.String(), func(t *testing.T) {
			err := module.CheckExact(v, host)
			require.Error(t, err)

			var mismatch *module.VersionMismatchError
			require.True(t, errors.As(err, &mismatch))
			assert.Equal(t, v, mismatch.Module)
			assert.Equal(t, host, mismatch.Host)
		})
	}
}

func TestVersionMismatchError_Direction(t *testing.T) {
	host := module.Version{Major: 2, Minor: 1, Patch: 4}

	tests := []struct {
		module module.Version
		newer  bool
		text   string
	}{
		{module.Version{Major: 1, Minor: 9, Patch: 9}, false, "an older version 1.9"},
		{module.Version{Major: 3, Minor: 0, Patch: 0}, true, "a newer version 3.0"},
		{module.Version{Major: 2, Minor: 0, Patch: 9}, false, "an older version 2.0"},
		{module.Version{Major: 2, Minor: 2, Patch: 0}, true, "a newer version 2.2"},
		{module.Version{Major: 2, Minor: 1, Patch: 3}, false, "an older version, 2.1.3"},
		{module.Version{Major: 2, Minor: 1, Patch: 5}, true, "a newer version, 2.1.5"},
	}
	for _, tt := range tests {
		t.Run(tt.module.String(), func(t *testing.T) {
			err := &module.VersionMismatchError{Module: tt.module, Host: host}
			assert.Equal(t, tt.newer, err.Newer())
			assert.Contains(t, err.Error(), tt.text)
			assert.Contains(t, err.Error(), "this is 2.1.4")
		})
	}
}

func TestCheckMinimum(t *testing.T) {
	host := module.Version{Major: 2, Minor: 1, Patch: 4}

	tests := []struct {
		requested module.Version
		ok        bool
	}{
		{module.Version{Major: 1, Minor: 9, Patch: 9}, true},
		{module.Version{Major: 2, Minor: module.Any, Patch: module.Any}, true},
		{module.Version{Major: 2, Minor: 0, Patch: 99}, true},
		{module.Version{Major: 2, Minor: 1, Patch: module.Any}, true},
		{module.Version{Major: 2, Minor: 1, Patch: 4}, true},
		{module.Version{Major: 2, Minor: 1, Patch: 3}, true},
		{module.Version{Major: 2, Minor: 1, Patch: 5}, false},
		{module.Version{Major: 2, Minor: 2, Patch: module.Any}, false},
		{module.Version{Major: 3, Minor: module.Any, Patch: module.Any}, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d.%d.%d", tt.requested.Major, tt.requested.Minor, tt.requested.Patch), func(t *testing.T) {
			err := module.CheckMinimum(tt.requested, host)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			errutil.AssertErrorCode(t, err, module.CodeConstructorFailed)
			assert.Contains(t, err.Error(), "this is 2.1.4")
		})
	}
}
