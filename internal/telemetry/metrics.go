// Package telemetry provides application-level observability for the AppChat
// platform.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<ACP_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint returns the Prometheus text exposition
// format and is intended to be scraped every 15–60 seconds. It is NOT served
// by the Gin router, so it never competes with API traffic and is absent from
// the public surface.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template,
//     not raw URL, to keep cardinality bounded)
//   - Sub-chat provisioning counters (new vs. existing)
//   - Authorization outcome counters (capability denials, credential failures)
//   - Analytics rollup health (parent resolution failures, reconciliation
//     duration)
//   - Audit pipeline health (write/ship failures, archive batches)
//   - Database connection pool gauge (polled every 30 s)
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
//
// The path label holds the Gin route template (e.g. /api/v1/subchats/:endUserId),
// NOT the raw URL, so user-supplied identifiers never become label values.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Provisioning and authorization metrics.
//
// SubchatProvisionsTotal is labelled by result: "new" when a fresh conversation
// was created, "existing" when the idempotent path returned an already-active
// authorization. A high existing:new ratio is normal; a sudden spike in "new"
// for one app can indicate end-user identifier churn on the caller's side.
//
// CapabilityDenialsTotal counts capability checks that failed closed, labelled
// by the requested capability. Raw-file capabilities (list_files,
// download_file) appearing here means an integration is probing the privacy
// boundary — worth alerting on.
//
// CredentialFailuresTotal counts rejected credentials by kind
// ("app_secret", "scoped_token", "developer_jwt").
var (
	SubchatProvisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subchat_provisions_total",
			Help: "Total number of sub-chat provisioning calls, by result (new or existing).",
		},
		[]string{"result"},
	)

	CapabilityDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capability_denials_total",
			Help: "Total number of capability checks that failed closed, by requested capability.",
		},
		[]string{"capability"},
	)

	CredentialFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credential_failures_total",
			Help: "Total number of rejected credential validations, by credential kind.",
		},
		[]string{"kind"},
	)
)

// Analytics rollup metrics.
//
// ParentResolutionFailuresTotal counts tracked events that were dropped
// because no parent conversation could be resolved for the sub-chat. These
// events still update the sub-chat's own metadata; only the parent rollup is
// skipped. Non-zero rates here mean reconciliation is the only thing keeping
// parent totals honest, so an alert on increase() > 0 is recommended.
//
// ReconciliationDuration observes one full ground-truth recompute of a parent
// conversation's rollups.
var (
	ParentResolutionFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "analytics_parent_resolution_failures_total",
			Help: "Total number of analytics updates dropped because the parent conversation could not be resolved.",
		},
	)

	ReconciliationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "analytics_reconciliation_duration_seconds",
			Help:    "Duration of a full parent rollup reconciliation pass.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Audit pipeline metrics.
//
// AuditWriteFailuresTotal counts audit records that could not be persisted or
// shipped. Audit writes are best-effort with respect to the operation they
// describe, so failures surface only here and in logs — a non-zero rate is a
// compliance problem even though no request failed because of it.
//
// AuditArchiveBatchesTotal counts batches exported to the object-store archive,
// labelled by outcome.
var (
	AuditWriteFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_write_failures_total",
			Help: "Total number of failed audit record writes, by destination (store or shipper).",
		},
		[]string{"destination"},
	)

	AuditArchiveBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_archive_batches_total",
			Help: "Total number of audit archive export batches, by outcome (success or error).",
		},
		[]string{"outcome"},
	)
)

// DBOpenConnections tracks the number of open connections currently held by
// the sql.DB pool. It is sampled every 30 seconds by StartDBStatsCollector
// rather than per-request to avoid the overhead of sql.DB.Stats().
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB
// connection pool statistics every 30 seconds and updates the
// DBOpenConnections gauge. The goroutine exits cleanly when the database
// becomes unreachable (db.Ping fails), which happens automatically when the
// application shuts down and defers db.Close().
//
// Call this once, immediately after db.Connect() succeeds in main.go.
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
