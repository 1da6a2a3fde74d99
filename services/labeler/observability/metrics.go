// Copyright (C) 2025 Glaucoma and Data Science Laboratory
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the labeling
// service: request counters, sheet-call counters, label-save outcomes,
// and cache behavior gauges. Metrics are exposed on /metrics; all
// operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "glaucomalab"
	labelerSubsystem = "labeler"
)

// Metrics holds all Prometheus metrics for the labeling service.
// Initialize once at startup via InitMetrics.
type Metrics struct {
	// RequestsTotal counts HTTP requests by route and status class.
	RequestsTotal *prometheus.CounterVec

	// RequestDurationSeconds measures handler latency by route.
	RequestDurationSeconds *prometheus.HistogramVec

	// SheetCallsTotal counts remote sheet operations.
	// Labels: operation (read, append, update), status (success, error)
	SheetCallsTotal *prometheus.CounterVec

	// LabelSavesTotal counts label save outcomes.
	// Labels: sink (local, remote), status (success, error)
	LabelSavesTotal *prometheus.CounterVec

	// CacheEventsTotal counts cache hits, misses, and evictions.
	// Labels: event (hit, miss, eviction)
	CacheEventsTotal *prometheus.CounterVec

	// PatientsCompletedTotal counts completion markings by specialist.
	PatientsCompletedTotal *prometheus.CounterVec

	// PrefetchesTotal counts background warms by outcome.
	// Labels: outcome (complete, superseded, error)
	PrefetchesTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance, set by InitMetrics.
var DefaultMetrics *Metrics

// InitMetrics creates and registers all metrics on the default
// registry. Call once at startup; a second call panics on duplicate
// registration.
func InitMetrics() *Metrics {
	DefaultMetrics = &Metrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: labelerSubsystem,
				Name:      "requests_total",
				Help:      "Total HTTP requests by route and status class",
			},
			[]string{"route", "status"},
		),

		RequestDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: labelerSubsystem,
				Name:      "request_duration_seconds",
				Help:      "Handler latency in seconds by route",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"route"},
		),

		SheetCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: labelerSubsystem,
				Name:      "sheet_calls_total",
				Help:      "Total remote sheet operations by type and status",
			},
			[]string{"operation", "status"},
		),

		LabelSavesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: labelerSubsystem,
				Name:      "label_saves_total",
				Help:      "Total label save attempts by sink and status",
			},
			[]string{"sink", "status"},
		),

		CacheEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: labelerSubsystem,
				Name:      "cache_events_total",
				Help:      "Total cache hits, misses, and evictions",
			},
			[]string{"event"},
		),

		PatientsCompletedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: labelerSubsystem,
				Name:      "patients_completed_total",
				Help:      "Total patients marked completed by specialist",
			},
			[]string{"specialist"},
		),

		PrefetchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: labelerSubsystem,
				Name:      "prefetches_total",
				Help:      "Total background cache warms by outcome",
			},
			[]string{"outcome"},
		),
	}
	return DefaultMetrics
}

// RecordRequest records one handled HTTP request.
func (m *Metrics) RecordRequest(route, status string, seconds float64) {
	m.RequestsTotal.WithLabelValues(route, status).Inc()
	m.RequestDurationSeconds.WithLabelValues(route).Observe(seconds)
}

// RecordSheetCall records one remote sheet operation.
func (m *Metrics) RecordSheetCall(operation string, success bool) {
	m.SheetCallsTotal.WithLabelValues(operation, statusLabel(success)).Inc()
}

// RecordLabelSave records one label save attempt against a sink.
func (m *Metrics) RecordLabelSave(sink string, success bool) {
	m.LabelSavesTotal.WithLabelValues(sink, statusLabel(success)).Inc()
}

// RecordPrefetch records one background warm outcome.
func (m *Metrics) RecordPrefetch(outcome string) {
	m.PrefetchesTotal.WithLabelValues(outcome).Inc()
}

// RecordCompletion records a patient marked completed.
func (m *Metrics) RecordCompletion(specialist string) {
	m.PatientsCompletedTotal.WithLabelValues(specialist).Inc()
}

// SyncCacheStats publishes cache counter deltas. Pass the previously
// published snapshot values; the caller owns that bookkeeping.
func (m *Metrics) SyncCacheStats(hits, misses, evictions float64) {
	m.CacheEventsTotal.WithLabelValues("hit").Add(hits)
	m.CacheEventsTotal.WithLabelValues("miss").Add(misses)
	m.CacheEventsTotal.WithLabelValues("eviction").Add(evictions)
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
