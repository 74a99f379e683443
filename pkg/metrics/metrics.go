package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Txn lifecycle metrics
	TxnBeginsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gaiadb_txn_begins_total",
			Help: "Total number of transactions begun",
		},
	)

	TxnCommitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gaiadb_txn_commits_total",
			Help: "Total number of transactions committed",
		},
	)

	TxnAbortsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gaiadb_txn_aborts_total",
			Help: "Total number of transactions aborted, by reason",
		},
		[]string{"reason"},
	)

	TxnRollbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gaiadb_txn_rollbacks_total",
			Help: "Total number of transactions explicitly rolled back",
		},
	)

	// Validation metrics
	ValidateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gaiadb_validate_duration_seconds",
			Help:    "Time spent in commit-time conflict validation",
			Buckets: prometheus.DefBuckets,
		},
	)

	ValidateRecursionDepth = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gaiadb_validate_recursion_depth",
			Help:    "Depth of recursive predecessor validation per commit",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
	)

	// Arena / locator metrics
	ArenaBytesUsed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gaiadb_arena_bytes_used",
			Help: "Bytes claimed from the object arena",
		},
	)

	LocatorsAllocatedTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gaiadb_locators_allocated_total",
			Help: "Total number of locators ever allocated",
		},
	)

	IDIndexEntriesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gaiadb_id_index_entries_total",
			Help: "Total number of live entries in the id index",
		},
	)

	// Watermark / reclamation metrics
	WatermarkTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gaiadb_watermark_timestamp",
			Help: "Current oldest-non-terminated begin timestamp",
		},
	)

	LastAppliedCommitTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gaiadb_last_applied_commit_timestamp",
			Help: "Highest commit timestamp the watermark has fully applied and reclaimed",
		},
	)

	ReclaimedLogsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gaiadb_reclaimed_logs_total",
			Help: "Total number of txn log fds closed by watermark advancement",
		},
	)

	// Session / protocol metrics
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gaiadb_sessions_active",
			Help: "Number of currently connected sessions",
		},
	)

	ProtocolErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gaiadb_protocol_errors_total",
			Help: "Total number of fatal protocol errors, by event",
		},
		[]string{"event"},
	)

	StreamBatchesSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gaiadb_stream_batches_sent_total",
			Help: "Total number of cursor batches written to clients",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TxnBeginsTotal,
		TxnCommitsTotal,
		TxnAbortsTotal,
		TxnRollbacksTotal,
		ValidateDuration,
		ValidateRecursionDepth,
		ArenaBytesUsed,
		LocatorsAllocatedTotal,
		IDIndexEntriesTotal,
		WatermarkTimestamp,
		LastAppliedCommitTimestamp,
		ReclaimedLogsTotal,
		SessionsActive,
		ProtocolErrorsTotal,
		StreamBatchesSentTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram *prometheus.HistogramVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
