// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the query
// iteration engine.
//
// # Description
//
// This package implements Prometheus metrics for monitoring query iteration
// lifecycles. Metrics include:
//   - Iteration counters (by state transition and corpus)
//   - Cache hit/miss counters for the fingerprint index
//   - Job submission and completion latency histograms
//   - Active query gauges
//   - Pub/sub fan-out counters
//
// # Integration
//
// Metrics are exposed via /metrics endpoint. Use with Prometheus + Grafana
// for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "qiengine"

// Subsystem for query iteration metrics
const querySubsystem = "query"

// EngineMetrics holds all Prometheus metrics for the query iteration engine.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring query iteration
// performance and resource usage. Initialize once at startup via InitMetrics().
//
// # Fields
//
//   - IterationsTotal: Counter of iterations by state transition
//   - CacheLookupsTotal: Counter of fingerprint cache lookups by outcome
//   - JobSubmitDurationSeconds: Histogram of time spent submitting jobs
//   - QueryDurationSeconds: Histogram of total logical query duration
//   - ActiveQueries: Gauge of currently running logical queries
//   - FanoutTotal: Counter of pub/sub messages fanned out to connections
//   - BatchesSelectedTotal: Counter of batch selector decisions by outcome
//
// # Thread Safety
//
// All operations are thread-safe.
type EngineMetrics struct {
	// IterationsTotal counts iterations by the state they transitioned into.
	// Labels: state (submitting, replaying, running, aggregated, terminal, continue, canceled)
	IterationsTotal *prometheus.CounterVec

	// CacheLookupsTotal counts fingerprint cache lookups by outcome.
	// Labels: outcome (hit, miss)
	CacheLookupsTotal *prometheus.CounterVec

	// JobSubmitDurationSeconds measures time spent submitting a job to the
	// worker runtime.
	// Labels: kind (primary, sentences, metadata, export)
	JobSubmitDurationSeconds *prometheus.HistogramVec

	// QueryDurationSeconds measures total logical query duration from
	// creation to a terminal state.
	// Labels: outcome (finished, satisfied, failed, canceled)
	QueryDurationSeconds *prometheus.HistogramVec

	// ActiveQueries tracks currently running logical queries.
	ActiveQueries prometheus.Gauge

	// FanoutTotal counts pub/sub messages delivered to websocket connections.
	// Labels: action (query, export)
	FanoutTotal *prometheus.CounterVec

	// BatchesSelectedTotal counts batch selector decisions by outcome.
	// Labels: outcome (selected, exhausted)
	BatchesSelectedTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of EngineMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *EngineMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once
// at application startup, after the Prometheus default registry is
// available.
//
// # Outputs
//
//   - *EngineMetrics: The initialized metrics instance.
//
// # Examples
//
//	func main() {
//	    observability.InitMetrics()
//	    // ... start server ...
//	}
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
//
// # Assumptions
//
//   - Prometheus default registry is available.
func InitMetrics() *EngineMetrics {
	DefaultMetrics = &EngineMetrics{
		IterationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "iterations_total",
				Help:      "Total number of iteration state transitions",
			},
			[]string{"state"},
		),

		CacheLookupsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "cache_lookups_total",
				Help:      "Total fingerprint cache lookups by outcome",
			},
			[]string{"outcome"},
		),

		JobSubmitDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "job_submit_duration_seconds",
				Help:      "Time spent submitting a job to the worker runtime",
				Buckets:   []float64{0.001, 0.005, 0.025, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"kind"},
		),

		QueryDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "duration_seconds",
				Help:      "Total logical query duration from creation to a terminal state",
				Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 300, 900},
			},
			[]string{"outcome"},
		),

		ActiveQueries: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "active_queries",
				Help:      "Number of currently running logical queries",
			},
		),

		FanoutTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "pubsub",
				Name:      "fanout_total",
				Help:      "Total pub/sub messages delivered to websocket connections",
			},
			[]string{"action"},
		),

		BatchesSelectedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "batches_selected_total",
				Help:      "Total batch selector decisions by outcome",
			},
			[]string{"outcome"},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Iteration States
// =============================================================================

// IterationState represents a query iteration controller state for metrics
// labeling. Mirrors the state names in datatypes.LogicalQueryStatus.
type IterationState string

const (
	StateSubmitting IterationState = "submitting"
	StateReplaying  IterationState = "replaying"
	StateRunning    IterationState = "running"
	StateAggregated IterationState = "aggregated"
	StateTerminal   IterationState = "terminal"
	StateContinue   IterationState = "continue"
	StateCanceled   IterationState = "canceled"
)

// =============================================================================
// Cache Outcomes
// =============================================================================

// CacheOutcome represents whether a fingerprint cache lookup hit or missed.
type CacheOutcome string

const (
	CacheHit  CacheOutcome = "hit"
	CacheMiss CacheOutcome = "miss"
)

// =============================================================================
// Job Kinds
// =============================================================================

// JobKind represents the kind of job submitted to the worker runtime.
type JobKind string

const (
	JobPrimary   JobKind = "primary"
	JobSentences JobKind = "sentences"
	JobMetadata  JobKind = "metadata"
	JobExport    JobKind = "export"
)

// =============================================================================
// Query Outcomes
// =============================================================================

// QueryOutcome represents the terminal outcome of a logical query.
type QueryOutcome string

const (
	OutcomeFinished  QueryOutcome = "finished"
	OutcomeSatisfied QueryOutcome = "satisfied"
	OutcomeFailed    QueryOutcome = "failed"
	OutcomeCanceled  QueryOutcome = "canceled"
)

// =============================================================================
// Fan-out Actions
// =============================================================================

// FanoutAction represents the kind of message fanned out over pub/sub.
type FanoutAction string

const (
	FanoutQuery  FanoutAction = "query"
	FanoutExport FanoutAction = "export"
)

// =============================================================================
// Batch Selector Outcomes
// =============================================================================

// BatchOutcome represents whether the selector picked a batch or ran out.
type BatchOutcome string

const (
	BatchSelected  BatchOutcome = "selected"
	BatchExhausted BatchOutcome = "exhausted"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordIteration records an iteration transitioning into the given state.
func (m *EngineMetrics) RecordIteration(state IterationState) {
	m.IterationsTotal.WithLabelValues(string(state)).Inc()
}

// RecordCacheLookup records a fingerprint cache lookup outcome.
func (m *EngineMetrics) RecordCacheLookup(outcome CacheOutcome) {
	m.CacheLookupsTotal.WithLabelValues(string(outcome)).Inc()
}

// RecordJobSubmitDuration records the time spent submitting a job.
//
// # Inputs
//
//   - kind: The kind of job submitted.
//   - seconds: Submission duration in seconds.
func (m *EngineMetrics) RecordJobSubmitDuration(kind JobKind, seconds float64) {
	m.JobSubmitDurationSeconds.WithLabelValues(string(kind)).Observe(seconds)
}

// RecordQueryDuration records the total duration of a logical query that
// reached a terminal outcome.
func (m *EngineMetrics) RecordQueryDuration(outcome QueryOutcome, seconds float64) {
	m.QueryDurationSeconds.WithLabelValues(string(outcome)).Observe(seconds)
}

// QueryStarted increments the active queries gauge.
func (m *EngineMetrics) QueryStarted() {
	m.ActiveQueries.Inc()
}

// QueryEnded decrements the active queries gauge.
func (m *EngineMetrics) QueryEnded() {
	m.ActiveQueries.Dec()
}

// RecordFanout records a pub/sub message delivered to a websocket connection.
func (m *EngineMetrics) RecordFanout(action FanoutAction) {
	m.FanoutTotal.WithLabelValues(string(action)).Inc()
}

// RecordBatchSelection records a batch selector decision.
func (m *EngineMetrics) RecordBatchSelection(outcome BatchOutcome) {
	m.BatchesSelectedTotal.WithLabelValues(string(outcome)).Inc()
}
