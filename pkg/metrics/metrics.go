package metrics

import (
	"time"
)

// RecordTableOperation records a table operation with its duration.
func (r *Registry) RecordTableOperation(operation, status string, duration time.Duration) {
	r.TableOperationsTotal.WithLabelValues(operation, status).Inc()
	r.TableOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordTupleMigration records a tuple migrated to a newer layout version.
func (r *Registry) RecordTupleMigration(table string) {
	r.TupleMigrationsTotal.WithLabelValues(table).Inc()
}

// SetSchemaVersionCount records the number of layout versions for a table.
func (r *Registry) SetSchemaVersionCount(table string, versions int) {
	r.SchemaVersions.WithLabelValues(table).Set(float64(versions))
}

// RecordRedoAppend records one redo log append with its payload size.
func (r *Registry) RecordRedoAppend(payloadBytes int) {
	r.RedoEntriesTotal.Inc()
	r.RedoBytesTotal.Add(float64(payloadBytes))
}

// SetRedoCompressionRatio records the redo log's current compression ratio.
func (r *Registry) SetRedoCompressionRatio(ratio float64) {
	r.RedoCompressionRatio.Set(ratio)
}
