/*
Package metrics exposes Prometheus instrumentation for the store and a small
JSON health/readiness/liveness surface for operators and orchestrators.

# Architecture

	┌──────────────────── METRICS SYSTEM ───────────────────────┐
	│                                                             │
	│  ┌───────────────────────────────────────────┐            │
	│  │        Package-level metric vars           │            │
	│  │  - registered once via init()              │            │
	│  │  - updated inline by session/watermark     │            │
	│  └──────────────────┬──────────────────────────┘          │
	│                     │                                       │
	│  ┌──────────────────▼──────────────────────────┐          │
	│  │              Collector                       │          │
	│  │  - polls a metrics.Source every 15s          │          │
	│  │  - samples arena/watermark gauges            │          │
	│  │  - serves /health /ready /live from the same │          │
	│  │    samples (ready once the first one lands)  │          │
	│  └───────────────────────────────────────────────┘         │
	└──────────────────────────────────────────────────────────┘

# Metric reference

gaiadb_txn_begins_total, gaiadb_txn_commits_total: monotonic counters for
the transaction lifecycle (§4.3).

gaiadb_txn_aborts_total{reason}: labeled by abort cause; pkg/session
records every DECIDE_ABORT reply, fenced or conflicting, under reason
"validation".

gaiadb_validate_duration_seconds, gaiadb_validate_recursion_depth: commit
validation cost (§4.4) histograms; they are registered, but nothing in the
store observes them.

gaiadb_arena_bytes_used, gaiadb_locators_allocated_total,
gaiadb_id_index_entries_total: shared-segment occupancy (§4.1).

gaiadb_watermark_timestamp, gaiadb_last_applied_commit_timestamp,
gaiadb_reclaimed_logs_total: reclamation progress (§4.6).

gaiadb_sessions_active, gaiadb_protocol_errors_total{event},
gaiadb_stream_batches_sent_total: session protocol (§4.5).

# Usage

	metrics.TxnCommitsTotal.Inc()
	metrics.TxnAbortsTotal.WithLabelValues("validation").Inc()

	timer := metrics.NewTimer()
	err := validate(ctx, begin, commit, log)
	timer.ObserveDuration(metrics.ValidateDuration)

	collector := metrics.NewCollector(server)
	collector.SetVersion(buildVersion)
	collector.Start()
	defer collector.Stop()

	http.Handle("/metrics", metrics.Handler())
	http.HandleFunc("/health", collector.HealthHandler())
	http.HandleFunc("/ready", collector.ReadyHandler())
	http.HandleFunc("/live", collector.LivenessHandler())

This package integrates with pkg/session (begin/commit/abort/rollback,
session, protocol error and stream counters), pkg/watermark (reclamation
gauges), and, through the Collector's Source, pkg/server (arena occupancy
gauges).
*/
package metrics
