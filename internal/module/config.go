// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package module

// ConfigProvider supplies the configuration document passed to a module's
// reload hook.
type ConfigProvider interface {
	// ModuleConfig returns the configuration for the named module. An error
	// means the configuration could not be read or parsed.
	ModuleConfig(name string) ([]byte, error)
}

// ConfigFunc adapts a function to ConfigProvider.
type ConfigFunc func(name string) ([]byte, error)

// ModuleConfig implements ConfigProvider.
func (f ConfigFunc) ModuleConfig(name string) ([]byte, error) {
	return f(name)
}

// NoConfig gives every module an empty configuration.
var NoConfig ConfigProvider = ConfigFunc(func(string) ([]byte, error) { return nil, nil })
