// Package metrics provides Prometheus metrics for the triple store.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the triple store.
type Metrics struct {
	// Database operation metrics (insert/update/delete/query/commit).
	DbOperationsTotal   *prometheus.CounterVec
	DbOperationDuration *prometheus.HistogramVec
	CommitDuration      prometheus.Histogram
	DbSizeBytes         prometheus.Gauge
	DbRecordsTotal      prometheus.Gauge

	// WAL metrics.
	WalAppendsTotal   *prometheus.CounterVec
	WalAppendDuration *prometheus.HistogramVec
	WalSyncDuration   prometheus.Histogram

	// Buffer pool metrics.
	BufferPoolSizePages  prometheus.Gauge
	BufferPoolInUsePages prometheus.Gauge

	// GC metrics.
	GcSweepsTotal     prometheus.Counter
	GcConsideredTotal prometheus.Counter
	GcReclaimedTotal  prometheus.Counter
	GcRequeuedTotal   prometheus.Counter

	// Checkpoint metrics.
	CheckpointsTotal   prometheus.Counter
	CheckpointDuration prometheus.Histogram

	// Query engine metrics.
	QueryExecutionsTotal prometheus.Counter
	QueryResultRowsTotal prometheus.Counter

	// Server metrics.
	ServerUptimeSeconds prometheus.Gauge
	ServerStartTime     time.Time
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		ServerStartTime: time.Now(),
	}

	m.DbOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triplestore_db_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	m.DbOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "triplestore_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	m.CommitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "triplestore_commit_duration_seconds",
			Help:    "Duration of the nine-step commit path in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	m.DbSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "triplestore_db_size_bytes",
			Help: "Current database file size in bytes",
		},
	)

	m.DbRecordsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "triplestore_db_records_total",
			Help: "Total number of live triple records in the database",
		},
	)

	m.WalAppendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triplestore_wal_appends_total",
			Help: "Total number of WAL records appended",
		},
		[]string{"record_type"},
	)

	m.WalAppendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "triplestore_wal_append_duration_seconds",
			Help:    "Duration of individual WAL record appends in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"record_type"},
	)

	m.WalSyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "triplestore_wal_sync_duration_seconds",
			Help:    "Duration of WAL fsync calls in seconds, the commit linearization point",
			Buckets: prometheus.DefBuckets,
		},
	)

	m.BufferPoolSizePages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "triplestore_buffer_pool_size_pages",
			Help: "Configured capacity of the shared buffer pool, in pages",
		},
	)

	m.BufferPoolInUsePages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "triplestore_buffer_pool_in_use_pages",
			Help: "Pages currently leased out of the shared buffer pool",
		},
	)

	m.GcSweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "triplestore_gc_sweeps_total",
			Help: "Total number of tombstone GC sweep passes run",
		},
	)

	m.GcConsideredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "triplestore_gc_considered_total",
			Help: "Total number of tombstone entries considered across all sweeps",
		},
	)

	m.GcReclaimedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "triplestore_gc_reclaimed_total",
			Help: "Total number of tombstoned records physically reclaimed",
		},
	)

	m.GcRequeuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "triplestore_gc_requeued_total",
			Help: "Total number of tombstone entries requeued as still visible to an active snapshot",
		},
	)

	m.CheckpointsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "triplestore_checkpoints_total",
			Help: "Total number of checkpoint passes run",
		},
	)

	m.CheckpointDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "triplestore_checkpoint_duration_seconds",
			Help:    "Duration of checkpoint passes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	m.QueryExecutionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "triplestore_query_executions_total",
			Help: "Total number of pattern-matching queries executed",
		},
	)

	m.QueryResultRowsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "triplestore_query_result_rows_total",
			Help: "Total number of result rows returned across all queries",
		},
	)

	m.ServerUptimeSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "triplestore_server_uptime_seconds",
			Help: "Process uptime in seconds",
		},
	)

	go m.updateUptime()

	return m
}

// updateUptime periodically updates the server uptime metric.
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.ServerUptimeSeconds.Set(time.Since(m.ServerStartTime).Seconds())
	}
}

// RecordDbOperation records a database operation's outcome and latency.
func (m *Metrics) RecordDbOperation(operation string, status string, duration time.Duration) {
	m.DbOperationsTotal.WithLabelValues(operation, status).Inc()
	m.DbOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCommit records the latency of one commit (steps 1-9).
func (m *Metrics) RecordCommit(duration time.Duration) {
	m.CommitDuration.Observe(duration.Seconds())
}

// RecordWalAppend records one WAL record append.
func (m *Metrics) RecordWalAppend(recordType string, duration time.Duration) {
	m.WalAppendsTotal.WithLabelValues(recordType).Inc()
	m.WalAppendDuration.WithLabelValues(recordType).Observe(duration.Seconds())
}

// RecordWalSync records one WAL fsync.
func (m *Metrics) RecordWalSync(duration time.Duration) {
	m.WalSyncDuration.Observe(duration.Seconds())
}

// RecordGcSweep records the outcome of one GC sweep.
func (m *Metrics) RecordGcSweep(considered, reclaimed, requeued int) {
	m.GcSweepsTotal.Inc()
	m.GcConsideredTotal.Add(float64(considered))
	m.GcReclaimedTotal.Add(float64(reclaimed))
	m.GcRequeuedTotal.Add(float64(requeued))
}

// RecordCheckpoint records the outcome of one checkpoint pass.
func (m *Metrics) RecordCheckpoint(duration time.Duration) {
	m.CheckpointsTotal.Inc()
	m.CheckpointDuration.Observe(duration.Seconds())
}

// RecordQuery records one query execution's result size.
func (m *Metrics) RecordQuery(resultRows int) {
	m.QueryExecutionsTotal.Inc()
	m.QueryResultRowsTotal.Add(float64(resultRows))
}

// UpdateDbStats updates database size/record-count gauges.
func (m *Metrics) UpdateDbStats(sizeBytes int64, recordCount int64) {
	m.DbSizeBytes.Set(float64(sizeBytes))
	m.DbRecordsTotal.Set(float64(recordCount))
}

// UpdateBufferPoolStats updates buffer pool occupancy gauges.
func (m *Metrics) UpdateBufferPoolStats(capacityPages, inUsePages int) {
	m.BufferPoolSizePages.Set(float64(capacityPages))
	m.BufferPoolInUsePages.Set(float64(inUsePages))
}
