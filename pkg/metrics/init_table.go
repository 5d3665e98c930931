package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initTableMetrics() {
	r.TableOperationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablestore_table_operations_total",
			Help: "Total number of table operations",
		},
		[]string{"operation", "status"},
	)

	r.TableOperationDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tablestore_table_operation_duration_seconds",
			Help:    "Table operation duration in seconds",
			Buckets: []float64{0.000001, 0.00001, 0.0001, 0.001, 0.01, 0.1, 1.0},
		},
		[]string{"operation"},
	)

	r.TupleMigrationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablestore_tuple_migrations_total",
			Help: "Total number of tuples migrated to a newer layout version on update",
		},
		[]string{"table"},
	)

	r.SchemaVersions = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tablestore_schema_versions",
			Help: "Number of layout versions registered per table",
		},
		[]string{"table"},
	)
}

func (r *Registry) initRedoMetrics() {
	r.RedoEntriesTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "tablestore_redo_entries_total",
			Help: "Total number of redo log entries written",
		},
	)

	r.RedoBytesTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "tablestore_redo_bytes_total",
			Help: "Total bytes of redo record payloads written to the log",
		},
	)

	r.RedoCompressionRatio = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "tablestore_redo_compression_ratio",
			Help: "Fraction of redo bytes saved by compression",
		},
	)
}
