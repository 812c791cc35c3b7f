// Package metrics exposes hearth's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Replication
	ReplicationRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hearth_replication_runs_total",
			Help: "Replication runs by final status",
		},
		[]string{"status"}, // "success", "partial", "failed"
	)

	ReplicationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hearth_replication_duration_seconds",
			Help:    "Wall time of replication runs",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 14400},
		},
	)

	ReplicationLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hearth_replication_last_success_timestamp_seconds",
			Help: "Unix time of the last successful replication",
		},
	)

	ReplicationBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hearth_replication_transferred_bytes_total",
			Help: "Bytes transferred by rsync across all runs",
		},
	)

	ReplicationFiles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hearth_replication_files_total",
			Help: "Files touched by rsync across all runs",
		},
		[]string{"action"}, // "transferred", "deleted"
	)

	// Transcode
	TranscodeFiles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hearth_transcode_files_total",
			Help: "Transcoded files by result and encoder",
		},
		[]string{"result", "encoder"},
	)

	TranscodeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hearth_transcode_file_duration_seconds",
			Help:    "Time spent per file (encode, subtitles, transfer)",
			Buckets: []float64{5, 30, 60, 300, 900, 1800, 3600},
		},
	)

	// Alerts
	AlertsFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hearth_alerts_fired_total",
			Help: "Alerts fired or re-notified by kind",
		},
		[]string{"kind"},
	)

	AlertsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hearth_alerts_resolved_total",
			Help: "Alerts resolved by kind",
		},
		[]string{"kind"},
	)

	AlertsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hearth_alerts_active",
			Help: "Alerts currently firing",
		},
	)

	// Notifier
	NotifyDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hearth_notify_deliveries_total",
			Help: "Notification attempts by notifier and outcome",
		},
		[]string{"notifier", "outcome"}, // "sent", "failed", "rejected"
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hearth_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hearth_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Probes
	ProbeResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hearth_probe_observations_total",
			Help: "Probe observations by adapter and health",
		},
		[]string{"adapter", "healthy"},
	)

	ProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hearth_probe_duration_seconds",
			Help:    "Duration of one probe cycle",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"adapter"},
	)

	// Audit
	AuditFindings = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hearth_audit_findings",
			Help: "Findings of the last audit by severity",
		},
		[]string{"severity"},
	)

	// HTTP
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hearth_api_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hearth_api_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	SSEClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hearth_sse_clients",
			Help: "Connected event stream clients",
		},
	)
)

// RecordReplication records a finished run.
func RecordReplication(status string, duration time.Duration, transferred, deleted int64, bytes int64, finished time.Time) {
	ReplicationRuns.WithLabelValues(status).Inc()
	ReplicationDuration.Observe(duration.Seconds())
	if transferred > 0 {
		ReplicationFiles.WithLabelValues("transferred").Add(float64(transferred))
	}
	if deleted > 0 {
		ReplicationFiles.WithLabelValues("deleted").Add(float64(deleted))
	}
	if bytes > 0 {
		ReplicationBytes.Add(float64(bytes))
	}
	if status == "success" || status == "partial" {
		ReplicationLastSuccess.Set(float64(finished.Unix()))
	}
}

// RecordTranscode records one processed file.
func RecordTranscode(result, encoder string, duration time.Duration) {
	TranscodeFiles.WithLabelValues(result, encoder).Inc()
	TranscodeDuration.Observe(duration.Seconds())
}

// RecordProbe records one probe cycle.
func RecordProbe(adapter string, healthy, unhealthy int, duration time.Duration) {
	if healthy > 0 {
		ProbeResults.WithLabelValues(adapter, "true").Add(float64(healthy))
	}
	if unhealthy > 0 {
		ProbeResults.WithLabelValues(adapter, "false").Add(float64(unhealthy))
	}
	ProbeDuration.WithLabelValues(adapter).Observe(duration.Seconds())
}

// RecordAudit replaces the finding gauges with the latest counts.
func RecordAudit(counts map[string]int) {
	for _, sev := range []string{"info", "warn", "error"} {
		AuditFindings.WithLabelValues(sev).Set(float64(counts[sev]))
	}
}

// RecordAPIRequest records a served request.
func RecordAPIRequest(method, route, status string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
