// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package module

import (
	"github.com/samber/oops"
)

// Error codes for load and unload failures.
const (
	CodeBadParams           = "BAD_PARAMS"
	CodeAlreadyExists       = "ALREADY_EXISTS"
	CodeNotFound            = "NOT_FOUND"
	CodeCannotOpen          = "CANNOT_OPEN"
	CodeSymbolMissing       = "SYMBOL_MISSING"
	CodeIncompatibleVersion = "INCOMPATIBLE_VERSION"
	CodeConstructorFailed   = "CONSTRUCTOR_FAILED"
	CodeConfigurationFailed = "CONFIGURATION_FAILED"
	CodeFileIO              = "FILE_IO"
	CodeReentrant           = "REENTRANT_CALL"
)

// Result is the categorical outcome of a loader operation.
type Result int

// Loader results.
const (
	ResultOK Result = iota
	ResultBadParams
	ResultAlreadyExists
	ResultNotFound
	ResultCannotOpen
	ResultSymbolMissing
	ResultIncompatibleVersion
	ResultConstructorThrew
	ResultConfigurationFailed
	ResultFileIOError
	ResultReentrant
	ResultUnknown
)

var resultNames = [...]string{
	ResultOK:                  "ok",
	ResultBadParams:           "bad_params",
	ResultAlreadyExists:       "already_exists",
	ResultNotFound:            "not_found",
	ResultCannotOpen:          "cannot_open",
	ResultSymbolMissing:       "symbol_missing",
	ResultIncompatibleVersion: "incompatible_version",
	ResultConstructorThrew:    "constructor_failed",
	ResultConfigurationFailed: "configuration_failed",
	ResultFileIOError:         "file_io",
	ResultReentrant:           "reentrant_call",
	ResultUnknown:             "unknown",
}

func (r Result) String() string {
	if r < 0 || int(r) >= len(resultNames) {
		return "unknown"
	}
	return resultNames[r]
}

var codeResults = map[string]Result{
	CodeBadParams:           ResultBadParams,
	CodeAlreadyExists:       ResultAlreadyExists,
	CodeNotFound:            ResultNotFound,
	CodeCannotOpen:          ResultCannotOpen,
	CodeSymbolMissing:       ResultSymbolMissing,
	CodeIncompatibleVersion: ResultIncompatibleVersion,
	CodeConstructorFailed:   ResultConstructorThrew,
	CodeConfigurationFailed: ResultConfigurationFailed,
	CodeFileIO:              ResultFileIOError,
	CodeReentrant:           ResultReentrant,
}

// ResultOf maps an error returned by the Manager to its Result.
func ResultOf(err error) Result {
	if err == nil {
		return ResultOK
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ResultUnknown
	}
	code, _ := oopsErr.Code().(string)
	if r, ok := codeResults[code]; ok {
		return r
	}
	return ResultUnknown
}

// ErrBadParams creates an error for an invalid request.
func ErrBadParams(name, reason string) error {
	return oops.Code(CodeBadParams).
		With("module", name).
		Errorf("invalid module request: %s", reason)
}

// ErrAlreadyExists creates an error for loading a module that is already active.
func ErrAlreadyExists(name string) error {
	return oops.Code(CodeAlreadyExists).
		With("module", name).
		Errorf("module %s is already loaded", name)
}

// ErrReentrant creates an error for a loader call made from inside a loader callback.
func ErrReentrant(op, name string) error {
	return oops.Code(CodeReentrant).
		With("module", name).
		With("operation", op).
		Errorf("module %s called from inside a module loader callback", op)
}

// loadFailure wraps cause with a load failure code.
func loadFailure(code, name string, cause error) error {
	return oops.Code(code).
		With("module", name).
		Wrapf(cause, "load module %s", name)
}
