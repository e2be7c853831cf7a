// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package module

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ModuleLoads counts load attempts by result.
// Use RegisterMetrics to register this with a Prometheus registry.
var ModuleLoads = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "holoserv_module_loads_total",
		Help: "Total number of module load attempts by result",
	},
	[]string{"result"},
)

// ModuleUnloads counts completed unloads.
var ModuleUnloads = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "holoserv_module_unloads_total",
		Help: "Total number of modules unloaded",
	},
)

// ModulesActive is the number of currently active modules.
var ModulesActive = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "holoserv_modules_active",
		Help: "Number of currently active modules",
	},
)

// ModuleLoadDuration observes how long load transactions take.
var ModuleLoadDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "holoserv_module_load_duration_seconds",
		Help:    "Module load duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
)

// RegisterMetrics registers module loader metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(ModuleLoads)
	reg.MustRegister(ModuleUnloads)
	reg.MustRegister(ModulesActive)
	reg.MustRegister(ModuleLoadDuration)
}

func recordLoad(result Result, d time.Duration) {
	ModuleLoads.WithLabelValues(result.String()).Inc()
	ModuleLoadDuration.Observe(d.Seconds())
	if result == ResultOK {
		ModulesActive.Inc()
	}
}

func recordUnload() {
	ModuleUnloads.Inc()
	ModulesActive.Dec()
}
