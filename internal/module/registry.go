// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package module

import (
	"math/bits"
	"slices"
	"sort"
	"strings"
	"sync"
)

// Registry is the ordered collection of active modules. Name uniqueness is
// enforced by the Manager at load time, not here.
// It is safe for concurrent reads; mutations come from the Manager only.
type Registry struct {
	modules []*Module
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Find returns the active module with the given name, compared
// case-insensitively, or nil.
func (r *Registry) Find(name string) *Module {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.modules {
		if strings.EqualFold(m.name, name) {
			return m
		}
	}
	return nil
}

// FindFirstOfType returns the earliest loaded module whose type shares a bit
// with mask, or nil.
func (r *Registry) FindFirstOfType(mask Type) *Module {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.modules {
		if m.typ&mask != 0 {
			return m
		}
	}
	return nil
}

// All returns the active modules in load order.
// The returned slice is a copy and safe to modify.
func (r *Registry) All() []*Module {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.modules)
}

// Len returns the number of active modules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.modules)
}

// UnloadOrder returns the active modules in bulk-unload order.
//
// Modules are grouped into tiers by their highest type bit; untyped modules
// come first, then modules whose type fits in bit 0, then bits 0-1, and so
// on. Within a tier load order is kept. This is the order produced by
// scanning the registry once per cumulative bit set and taking each module
// the first time its whole type fits, without the repeated scans.
func (r *Registry) UnloadOrder() []*Module {
	order := r.All()
	sort.SliceStable(order, func(i, j int) bool {
		return tier(order[i].typ) < tier(order[j].typ)
	})
	return order
}

// tier is the number of type bits needed to contain t.
func tier(t Type) int {
	return bits.Len32(uint32(t))
}

func (r *Registry) add(m *Module) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.modules = append(r.modules, m)
}

func (r *Registry) remove(m *Module) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := slices.Index(r.modules, m)
	if i < 0 {
		return false
	}
	r.modules = slices.Delete(r.modules, i, i+1)
	return true
}

func (r *Registry) contains(m *Module) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Contains(r.modules, m)
}
