package metrics

import (
	"github.com/marmos91/flock/pkg/engine"
)

// NewEngineMetrics creates a Prometheus-backed engine.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called). The
// engine treats nil as "no instrumentation" with zero overhead.
func NewEngineMetrics() engine.Metrics {
	if !IsEnabled() || newPrometheusEngineMetrics == nil {
		return nil
	}
	return newPrometheusEngineMetrics()
}

// newPrometheusEngineMetrics is implemented in pkg/metrics/prometheus.
// The indirection avoids an import cycle while keeping the API in one
// place.
var newPrometheusEngineMetrics func() engine.Metrics

// RegisterEngineMetricsConstructor registers the Prometheus engine metrics
// constructor. Called by pkg/metrics/prometheus during package
// initialization.
func RegisterEngineMetricsConstructor(constructor func() engine.Metrics) {
	newPrometheusEngineMetrics = constructor
}
