// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Fetch Metrics
	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callsync_fetches_total",
			Help: "Total number of call log fetches by result",
		},
		[]string{"result"}, // "success", "error", "not_permitted", "malformed"
	)

	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "callsync_fetch_duration_seconds",
			Help:    "Duration of backend call log fetches in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	FetchLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "callsync_fetch_last_success_timestamp",
			Help: "Unix timestamp of the last successful fetch and reconcile",
		},
	)

	// Trigger Metrics
	TriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callsync_triggers_total",
			Help: "Total number of refresh triggers by source",
		},
		[]string{"source"}, // "periodic", "network_up", "mwi", "call_ended", "missed_call", "manual"
	)

	TriggersSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callsync_triggers_skipped_total",
			Help: "Triggers that did not start a fetch",
		},
		[]string{"source", "reason"}, // reason: "in_flight", "disabled"
	)

	SyncEnabled = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "callsync_enabled",
			Help: "Whether call history sync is currently permitted (1) or disabled (0)",
		},
	)

	// Parser Metrics
	RecordsParsed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "callsync_records_parsed_total",
			Help: "Server records accepted by the parser",
		},
	)

	RecordsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callsync_records_skipped_total",
			Help: "Server records dropped by the parser",
		},
		[]string{"reason"}, // "already_seen", "in_progress"
	)

	// Reconcile Metrics
	ReconcileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "callsync_reconcile_duration_seconds",
			Help:    "Duration of a reconciliation pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconcileWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "callsync_reconcile_writes_total",
			Help: "Records written to the local store by reconciliation",
		},
	)

	ReconcileDeletes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "callsync_reconcile_deletes_total",
			Help: "Local records deleted by reconciliation",
		},
	)

	ReconcileErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "callsync_reconcile_errors_total",
			Help: "Reconciliation passes that failed or panicked",
		},
	)

	ClickToDialDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "callsync_click_to_dial_dropped_total",
			Help: "Inbound server legs dropped as click-to-dial duplicates",
		},
	)

	UnresolvedMissedCalls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "callsync_unresolved_missed_calls",
			Help: "Local missed calls still waiting for a server counterpart",
		},
	)

	NotificationsFired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "callsync_notifications_fired_total",
			Help: "Missed call notifications raised",
		},
	)

	// Directory Metrics
	DirectoryLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callsync_directory_lookups_total",
			Help: "Display name lookups by outcome",
		},
		[]string{"outcome"}, // "found", "not_found", "timeout", "error", "cached"
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Admin API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callsync_api_requests_total",
			Help: "Total number of admin API requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "callsync_api_request_duration_seconds",
			Help:    "Admin API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// Fetch results.
const (
	FetchSuccess      = "success"
	FetchError        = "error"
	FetchNotPermitted = "not_permitted"
	FetchMalformed    = "malformed"
)

// RecordFetch records a completed backend fetch.
func RecordFetch(duration time.Duration, result string) {
	FetchDuration.Observe(duration.Seconds())
	FetchesTotal.WithLabelValues(result).Inc()
}

// RecordReconcile records a reconciliation pass. A nil err also advances the
// last-success timestamp.
func RecordReconcile(duration time.Duration, written, deleted, unresolved int, err error) {
	ReconcileDuration.Observe(duration.Seconds())
	ReconcileWrites.Add(float64(written))
	ReconcileDeletes.Add(float64(deleted))
	UnresolvedMissedCalls.Set(float64(unresolved))
	if err != nil {
		ReconcileErrors.Inc()
		return
	}
	FetchLastSuccess.Set(float64(time.Now().Unix()))
}

// RecordTrigger records a trigger; reason is empty when a fetch was started.
func RecordTrigger(source, reason string) {
	TriggersTotal.WithLabelValues(source).Inc()
	if reason != "" {
		TriggersSkipped.WithLabelValues(source, reason).Inc()
	}
}

// SetEnabled mirrors the class-of-service state.
func SetEnabled(enabled bool) {
	if enabled {
		SyncEnabled.Set(1)
		return
	}
	SyncEnabled.Set(0)
}

// RecordAPIRequest records an admin API request metric
func RecordAPIRequest(method, route, status string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
