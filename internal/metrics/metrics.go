// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

// Package metrics provides Prometheus instrumentation for the tracking
// engine: ingestion outcomes, state transitions, automation dispatch,
// archival lag, and API latency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_events_ingested_total",
			Help: "Total tracking events processed by ingestion",
		},
		[]string{"source", "outcome"}, // outcome: accepted, duplicate, unresolved, rejected
	)

	EventsUnclassified = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracking_events_unclassified_total",
			Help: "Events accepted with an occurrence code absent from the registry",
		},
	)

	EventsLate = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracking_events_late_total",
			Help: "Events recorded behind the shipment's last applied event, status unchanged",
		},
	)

	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tracking_ingest_duration_seconds",
			Help:    "Duration of the full ingest pipeline per event",
			Buckets: prometheus.DefBuckets,
		},
	)

	// State machine metrics
	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shipment_status_transitions_total",
			Help: "Applied shipment status transitions",
		},
		[]string{"from", "to"},
	)

	AnomalousTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shipment_anomalous_transitions_total",
			Help: "Events recorded but not applied (regressions, post-terminal arrivals)",
		},
		[]string{"reason"}, // regression, terminal, stale
	)

	TransitionConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shipment_transition_conflicts_total",
			Help: "Optimistic-concurrency conflicts retried during status transitions",
		},
	)

	// Automation dispatch metrics
	AutomationInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_invocations_total",
			Help: "Automation rule invocation claims",
		},
		[]string{"outcome"}, // claimed, already_claimed, completed, failed
	)

	AutomationActionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "automation_action_duration_seconds",
			Help:    "Duration of automation action execution",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"kind"},
	)

	AutomationActionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_action_failures_total",
			Help: "Automation action failures by kind",
		},
		[]string{"kind"},
	)

	// Replay queue metrics
	ReplayQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "replay_queue_depth",
			Help: "Unresolved events waiting for their shipment to appear",
		},
	)

	ReplayResolved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "replay_resolved_total",
			Help: "Unresolved events successfully replayed after shipment creation",
		},
	)

	ReplayExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "replay_expired_total",
			Help: "Unresolved events moved to manual review after the retry window",
		},
	)

	// Archival sink metrics
	ArchiveWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_writes_total",
			Help: "Archival sink write attempts",
		},
		[]string{"outcome"}, // ok, error, retried
	)

	ArchiveQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "archive_queue_depth",
			Help: "Events buffered for archival",
		},
	)

	// Event bus metrics
	BusMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_messages_published_total",
			Help: "Messages published on the internal event bus",
		},
		[]string{"topic"},
	)

	// API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint"},
	)
)

// RecordIngest records one pass of the ingest pipeline.
func RecordIngest(source, outcome string, duration time.Duration) {
	EventsIngested.WithLabelValues(source, outcome).Inc()
	IngestDuration.Observe(duration.Seconds())
}

// RecordTransition records an applied status transition.
func RecordTransition(from, to string) {
	StatusTransitions.WithLabelValues(from, to).Inc()
}

// RecordAnomaly records an event kept for audit but not applied.
func RecordAnomaly(reason string) {
	AnomalousTransitions.WithLabelValues(reason).Inc()
}

// RecordAction records an automation action execution.
func RecordAction(kind string, duration time.Duration, err error) {
	AutomationActionDuration.WithLabelValues(kind).Observe(duration.Seconds())
	if err != nil {
		AutomationActionFailures.WithLabelValues(kind).Inc()
	}
}

// RecordArchiveWrite records the outcome of one archival write attempt.
func RecordArchiveWrite(outcome string) {
	ArchiveWrites.WithLabelValues(outcome).Inc()
}

// RecordAPIRequest records an API request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
