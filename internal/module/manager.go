// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package module

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/holoserv/internal/module/dl"
	"github.com/holomush/holoserv/internal/module/staging"
	"github.com/holomush/holoserv/pkg/errutil"
	"github.com/holomush/holoserv/pkg/modabi"
)

var tracer = otel.Tracer("github.com/holomush/holoserv/internal/module")

// Stager copies libraries to a scratch location before they are mapped.
type Stager interface {
	Stage(src string) (string, error)
	Unstage(ctx context.Context, staged string) error
}

// Manager orchestrates module load and unload transactions.
// All mutating operations are serialized.
type Manager struct {
	dir       string
	registry  *Registry
	loader    dl.Loader
	stager    Stager
	host      Version
	config    ConfigProvider
	observers []Observer
	logger    *slog.Logger
	mu        sync.Mutex
	obsMu     sync.RWMutex

	// notifying is set while observers run with mu held.
	notifying atomic.Bool
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithLoader sets the dynamic library loader.
func WithLoader(l dl.Loader) ManagerOption {
	return func(m *Manager) {
		m.loader = l
	}
}

// WithStaging enables copying libraries through s before they are opened.
func WithStaging(s Stager) ManagerOption {
	return func(m *Manager) {
		m.stager = s
	}
}

// WithHostVersion overrides the host version modules are gated against.
func WithHostVersion(v Version) ManagerOption {
	return func(m *Manager) {
		m.host = v
	}
}

// WithConfig sets the configuration passed to module reload hooks.
func WithConfig(c ConfigProvider) ManagerOption {
	return func(m *Manager) {
		m.config = c
	}
}

// WithObserver registers a lifecycle observer.
func WithObserver(o Observer) ManagerOption {
	return func(m *Manager) {
		m.observers = append(m.observers, o)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager creates a manager loading module libraries from dir into registry.
// Panics if registry is nil.
func NewManager(dir string, registry *Registry, opts ...ManagerOption) *Manager {
	if registry == nil {
		panic("module: registry cannot be nil")
	}
	m := &Manager{
		dir:      dir,
		registry: registry,
		loader:   dl.New(),
		host:     MustParseVersion(modabi.HostVersion),
		config:   NoConfig,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Registry returns the registry the manager populates.
func (m *Manager) Registry() *Registry { return m.registry }

// HostVersion returns the version modules are gated against.
func (m *Manager) HostVersion() Version { return m.host }

// Subscribe registers an observer for subsequent transitions.
func (m *Manager) Subscribe(o Observer) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()

	m.observers = append(m.observers, o)
}

// Find returns the active module with the given name, or nil.
func (m *Manager) Find(name string) *Module { return m.registry.Find(name) }

// FindFirstOfType returns the earliest loaded module matching mask, or nil.
func (m *Manager) FindFirstOfType(mask Type) *Module { return m.registry.FindFirstOfType(mask) }

// Modules returns the active modules in load order.
func (m *Manager) Modules() []*Module { return m.registry.All() }

// Load loads, version-gates, configures and registers the named module on
// behalf of actor (empty for the system). Either the module ends up active
// or nothing of it remains: no registry entry, open library or staged file.
func (m *Manager) Load(ctx context.Context, name, actor string) (*Module, error) {
	if m.reentrant(ctx) {
		return nil, ErrReentrant("load", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, span := tracer.Start(ctx, "module.load", trace.WithAttributes(
		attribute.String("module.name", name),
		attribute.String("module.actor", actor),
	))
	defer span.End()

	start := time.Now()
	mod, err := m.load(ctx, name, actor)
	recordLoad(ResultOf(err), time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ResultOf(err).String())
		return nil, err
	}
	return mod, nil
}

func (m *Manager) load(ctx context.Context, name, actor string) (*Module, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if m.registry.Find(name) != nil {
		return nil, ErrAlreadyExists(name)
	}

	log := m.logger.With("module", name)
	log.Debug("trying to load module", "actor", actor)

	mod := newModule(name, actor)
	canonical := dl.LibraryPath(m.dir, name)
	mod.backingPath = canonical

	if m.stager != nil {
		staged, err := m.stager.Stage(canonical)
		if err != nil {
			mod.setState(StateUnloaded)
			if errors.Is(err, staging.ErrSourceNotFound) {
				log.Error("error while loading module (file does not exist)", "path", canonical)
				return nil, loadFailure(CodeNotFound, name, err)
			}
			log.Error("error while loading module (file IO error, check file permissions and disk space)",
				"path", canonical, "error", err)
			return nil, loadFailure(CodeFileIO, name, err)
		}
		mod.backingPath = staged
		mod.staged = true
		log.Debug("runtime module location", "path", staged)
	}

	lib, err := m.loader.Open(mod.backingPath)
	if err != nil {
		log.Error("cannot open module library", "path", mod.backingPath, "error", err)
		m.teardown(ctx, mod)
		return nil, loadFailure(CodeCannotOpen, name, err)
	}

	ep, err := resolveEntryPoints(lib)
	if err != nil {
		log.Error("no init function found, not a module", "error", err)
		mod.lib = lib
		m.teardown(ctx, mod)
		return nil, loadFailure(CodeSymbolMissing, name, err)
	}

	instance, err := ep.construct(name, actor)
	if err != nil {
		log.Error("error while loading module", "error", err)
		mod.lib = lib
		m.teardown(ctx, mod)
		return nil, loadFailure(CodeConstructorFailed, name, err)
	}

	mod.lib = lib
	mod.abi = ep
	mod.instance = instance

	if err := m.gate(mod); err != nil {
		m.teardown(ctx, mod)
		return nil, err
	}

	if err := m.configure(mod); err != nil {
		log.Error("module could not load due to configuration problems", "error", err)
		m.teardown(ctx, mod)
		return nil, loadFailure(CodeConfigurationFailed, name, err)
	}

	mod.loadedAt = time.Now()
	mod.setState(StateActive)
	m.registry.add(mod)

	log.Info("module loaded",
		"id", mod.id.String(),
		"display_name", mod.DisplayName(),
		"type", mod.typ.String(),
		"version", mod.version.String(),
		"path", mod.backingPath)

	m.notify(ctx, func(ctx context.Context, o Observer) { o.ModuleLoaded(ctx, actor, mod) })
	return mod, nil
}

// gate reads the constructed module's identity and applies the version checks.
func (m *Manager) gate(mod *Module) error {
	log := m.logger.With("module", mod.name)

	v, t, display, err := mod.abi.describe(mod.instance)
	if err != nil {
		log.Error("error while loading module", "error", err)
		return loadFailure(CodeConstructorFailed, mod.name, err)
	}
	mod.version, mod.typ, mod.displayName = v, t, display

	minimum, ok, err := mod.abi.minimum()
	if err != nil {
		log.Error("error while loading module", "error", err)
		return loadFailure(CodeConstructorFailed, mod.name, err)
	}
	if ok {
		if err := CheckMinimum(minimum, m.host); err != nil {
			log.Error("error while loading module", "error", err)
			return oops.With("module", mod.name).Wrap(err)
		}
	}

	if err := CheckExact(v, m.host); err != nil {
		log.Error("module version mismatch", "error", err, "module_version", v.String(), "host_version", m.host.String())
		return loadFailure(CodeIncompatibleVersion, mod.name, err)
	}
	log.Debug("module is compiled against current version", "version", m.host.String())
	return nil
}

// configure passes the module its configuration. Read errors and hook
// failures are reported alike.
func (m *Manager) configure(mod *Module) error {
	doc, err := m.config.ModuleConfig(mod.name)
	if err != nil {
		return fmt.Errorf("read configuration: %w", err)
	}
	return mod.abi.configure(mod.instance, doc)
}

// Unload notifies observers, tears the module down and removes it from the
// registry.
func (m *Manager) Unload(ctx context.Context, mod *Module, actor string) error {
	if mod == nil {
		return ErrBadParams("", "no module given")
	}
	if m.reentrant(ctx) {
		return ErrReentrant("unload", mod.name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, span := tracer.Start(ctx, "module.unload", trace.WithAttributes(
		attribute.String("module.name", mod.name),
		attribute.String("module.actor", actor),
	))
	defer span.End()

	return m.unload(ctx, mod, actor)
}

func (m *Manager) unload(ctx context.Context, mod *Module, actor string) error {
	if !m.registry.contains(mod) {
		return ErrBadParams(mod.name, "module is not loaded")
	}

	mod.setState(StateUnloading)
	m.notify(ctx, func(ctx context.Context, o Observer) { o.ModuleUnloading(ctx, actor, mod) })

	m.teardown(ctx, mod)
	m.registry.remove(mod)
	recordUnload()

	m.logger.Info("module unloaded", "module", mod.name, "id", mod.id.String(), "actor", actor)
	return nil
}

// UnloadAll unloads every module, lower type tiers first. Each module goes
// through the regular unload sequence exactly once.
func (m *Manager) UnloadAll(ctx context.Context) error {
	if m.reentrant(ctx) {
		return ErrReentrant("unload-all", "")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, mod := range m.registry.UnloadOrder() {
		if !m.registry.contains(mod) {
			continue
		}
		if err := m.unload(ctx, mod, ""); err != nil {
			errutil.LogError(m.logger, "failed to unload module", err, "module", mod.name)
		}
	}
	return nil
}

// Rehash replaces the configuration and passes it to every active module.
// Modules whose reload hook fails stay loaded; the failures are returned
// joined.
func (m *Manager) Rehash(ctx context.Context, cfg ConfigProvider) error {
	if m.reentrant(ctx) {
		return ErrReentrant("rehash", "")
	}
	if cfg == nil {
		cfg = NoConfig
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = cfg

	var errs []error
	for _, mod := range m.registry.All() {
		if err := m.configure(mod); err != nil {
			err = loadFailure(CodeConfigurationFailed, mod.name, err)
			errutil.LogError(m.logger, "module rejected new configuration", err, "module", mod.name)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// reentrant reports whether a mutating call would have to wait on a
// transaction that is currently delivering observer callbacks. Such a call
// cannot be told apart from one made by the observer itself, so it is
// rejected rather than left to deadlock.
func (m *Manager) reentrant(ctx context.Context) bool {
	return inLoader(ctx) || m.notifying.Load()
}

// notify delivers a lifecycle event to every observer. Observer panics are
// logged and do not interrupt the transaction.
func (m *Manager) notify(ctx context.Context, deliver func(context.Context, Observer)) {
	m.obsMu.RLock()
	observers := append([]Observer(nil), m.observers...)
	m.obsMu.RUnlock()
	if len(observers) == 0 {
		return
	}

	m.notifying.Store(true)
	defer m.notifying.Store(false)

	ctx = withinLoader(ctx)
	for _, o := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("module observer panicked", "panic", r)
				}
			}()
			deliver(ctx, o)
		}()
	}
}

// validateName rejects names that cannot map to a library file in the
// modules directory.
func validateName(name string) error {
	switch {
	case name == "":
		return ErrBadParams(name, "empty module name")
	case strings.ContainsAny(name, `/\`) || strings.Contains(name, ".."):
		return ErrBadParams(name, "module name must not contain path elements")
	}
	return nil
}
