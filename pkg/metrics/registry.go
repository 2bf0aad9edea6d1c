// Package metrics provides Prometheus metrics for DittoStore components.
//
// All metrics are optional. Constructors take a registry and return a no-op
// implementation when it is nil, so components never check whether metrics
// are enabled.
//
// Usage:
//
//	metrics.InitRegistry()
//	reg := metrics.GetRegistry()
//	conns := metrics.NewConnectionMetrics(reg, "control")
//
//	// Or nil for no-op behavior
//	conns := metrics.NewConnectionMetrics(nil, "control")
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "dittostore"

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// NewRegistry returns a registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// InitRegistry creates the process registry. Later calls are ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = NewRegistry()
	})
}

// GetRegistry returns the process registry, nil until InitRegistry runs.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has run.
func IsEnabled() bool {
	return GetRegistry() != nil
}

// durationBuckets covers 1ms to 60s, which spans both a control round trip
// and a large streamed transfer.
var durationBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
