package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all prometheus collectors for the storage engine, backed
// by its own prometheus registry so multiple engines can coexist in one
// process.
type Registry struct {
	registry *prometheus.Registry

	// Table operation metrics
	TableOperationsTotal   *prometheus.CounterVec
	TableOperationDuration *prometheus.HistogramVec
	TupleMigrationsTotal   *prometheus.CounterVec
	SchemaVersions         *prometheus.GaugeVec

	// Redo log metrics
	RedoEntriesTotal     prometheus.Counter
	RedoBytesTotal       prometheus.Counter
	RedoCompressionRatio prometheus.Gauge
}

// NewRegistry creates a registry with all collectors registered.
func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}
	r.initTableMetrics()
	r.initRedoMetrics()
	return r
}

// PrometheusRegistry exposes the underlying registry for scraping.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.registry
}
