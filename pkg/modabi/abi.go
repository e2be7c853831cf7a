// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package modabi defines the binary contract between holoserv and loadable
// module libraries.
//
// A module library is a native shared object exporting C-ABI functions with
// the symbol names below. Entry points never unwind across the library
// boundary: failures are reported through Status return values, and a
// human-readable reason may be published through SymbolLastError.
//
//	int32_t     holoserv_module_init(const char *name, const char *actor, uintptr_t *instance);
//	void        holoserv_module_version(uintptr_t inst, int32_t *major, int32_t *minor, int32_t *patch);
//	uint32_t    holoserv_module_type(uintptr_t inst);
//	const char *holoserv_module_name(uintptr_t inst);
//	int32_t     holoserv_module_reload(uintptr_t inst, const char *config_yaml);
//	const char *holoserv_module_last_error(void);                              // optional
//	int32_t     holoserv_module_requires(int32_t *major, int32_t *minor, int32_t *patch); // optional
//	void        holoserv_module_fini(uintptr_t inst);                           // optional
package modabi

// HostVersion is the build version of the host. Modules must be built against
// exactly this version to be loaded.
const HostVersion = "2.1.0"

// Exported symbol names.
const (
	SymbolInit      = "holoserv_module_init"
	SymbolVersion   = "holoserv_module_version"
	SymbolType      = "holoserv_module_type"
	SymbolName      = "holoserv_module_name"
	SymbolReload    = "holoserv_module_reload"
	SymbolLastError = "holoserv_module_last_error"
	SymbolRequires  = "holoserv_module_requires"
	SymbolFini      = "holoserv_module_fini"
)

// Status is the result value returned by module entry points.
type Status = int32

// Entry point status values.
const (
	StatusOK          Status = 0
	StatusFailed      Status = 1
	StatusConfigError Status = 2
)

// AnyVersion in a requires field accepts any value at that depth.
const AnyVersion int32 = -1

// Module type bits. Lower bits are torn down first on shutdown.
const (
	TypeThird        uint32 = 1 << 0
	TypeSupported    uint32 = 1 << 1
	TypeCore         uint32 = 1 << 2
	TypeDatabase     uint32 = 1 << 3
	TypeEncryption   uint32 = 1 << 4
	TypeProtocol     uint32 = 1 << 5
	TypeSocketEngine uint32 = 1 << 6
)
