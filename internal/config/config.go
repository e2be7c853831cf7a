// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads the holoserv configuration file and exposes the
// per-module configuration documents handed to module reload hooks.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/holomush/holoserv/internal/logging"
)

// Staging modes.
const (
	StagingAuto   = "auto"
	StagingAlways = "always"
	StagingNever  = "never"
)

// Config is the daemon configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Log     LogConfig     `koanf:"log"`
	Modules ModulesConfig `koanf:"modules"`
	Metrics MetricsConfig `koanf:"metrics"`

	k *koanf.Koanf
}

// ServerConfig identifies this services instance.
type ServerConfig struct {
	Name string `koanf:"name"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// ModulesConfig controls where modules are loaded from and which are loaded
// at startup.
type ModulesConfig struct {
	Dir        string   `koanf:"dir"`
	RuntimeDir string   `koanf:"runtime_dir"`
	Staging    string   `koanf:"staging"`
	Autoload   []string `koanf:"autoload"`
}

// MetricsConfig controls the observability server. An empty address disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// Default returns the configuration used for keys absent from the file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Name: "services.localhost"},
		Log:    LogConfig{Format: "json", Level: "info"},
		Modules: ModulesConfig{
			Dir:     "modules",
			Staging: StagingAuto,
		},
		k: koanf.New("."),
	}
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"log-format":   "log.format",
	"log-level":    "log.level",
	"modules-dir":  "modules.dir",
	"runtime-dir":  "modules.runtime_dir",
	"staging":      "modules.staging",
	"metrics-addr": "metrics.addr",
}

// RegisterFlags adds the flags that override configuration keys.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("log-format", "", "log format (json, text)")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("modules-dir", "", "directory containing module libraries")
	fs.String("runtime-dir", "", "scratch directory for staged module libraries")
	fs.String("staging", "", "module staging mode (auto, always, never)")
	fs.String("metrics-addr", "", "metrics and health listen address, empty disables")
}

// Load reads the configuration file at path and applies flags that were set
// explicitly. A missing file is only an error when required is true.
func Load(path string, required bool, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if required || !errors.Is(err, os.ErrNotExist) {
				return nil, oops.Code("CONFIG_LOAD_FAILED").
					With("path", path).
					Wrapf(err, "load config file")
			}
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", nil, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, f.Value.String()
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").Wrapf(err, "apply flags")
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_INVALID").
			With("path", path).
			Wrapf(err, "decode config")
	}
	cfg.k = k

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated values and required keys.
func (c *Config) Validate() error {
	switch c.Log.Format {
	case "json", "text":
	default:
		return oops.Code("CONFIG_INVALID").
			With("key", "log.format").
			Errorf("log.format must be json or text, got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return oops.Code("CONFIG_INVALID").With("key", "log.level").Wrap(err)
	}
	if !slices.Contains([]string{StagingAuto, StagingAlways, StagingNever}, c.Modules.Staging) {
		return oops.Code("CONFIG_INVALID").
			With("key", "modules.staging").
			Errorf("modules.staging must be auto, always or never, got %q", c.Modules.Staging)
	}
	if c.Modules.Dir == "" {
		return oops.Code("CONFIG_INVALID").
			With("key", "modules.dir").
			Errorf("modules.dir is required")
	}
	return nil
}

// StagingEnabled resolves the staging mode against the platform default.
func (c *Config) StagingEnabled(platformRequires bool) bool {
	switch c.Modules.Staging {
	case StagingAlways:
		return true
	case StagingNever:
		return false
	default:
		return platformRequires
	}
}

// ModuleConfig returns the module.<name> subtree as a YAML document, or nil
// when the module has no configuration.
func (c *Config) ModuleConfig(name string) ([]byte, error) {
	if c.k == nil {
		return nil, nil
	}
	raw := c.k.Cut("module." + name).Raw()
	if len(raw) == 0 {
		return nil, nil
	}
	doc, err := yamlv3.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode configuration for module %s: %w", name, err)
	}
	return doc, nil
}
