// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package metrics provides Prometheus metrics for the chaos engine.

Two implementations of Recorder exist:

  - NoOp: counts in memory, exports nothing. Used by tests and when the
    status server is disabled.
  - Prometheus: registers collectors on a caller-supplied registry.

# Metrics Exported

  - netchaos_units_dispatched_total: Counter by mode and parameters
  - netchaos_units_terminal_total: Counter by terminal status
  - netchaos_unit_duration_seconds: Histogram of dispatch-to-terminal time
  - netchaos_batches_total: Counter by mode and result
  - netchaos_batch_duration_seconds: Histogram of batch wall time
  - netchaos_poll_errors_total: Counter of transient status read failures
  - netchaos_cleanup_errors_total: Counter by step (diagnostics, delete)
  - netchaos_probes_total: Counter by result
  - netchaos_experiments_total: Counter by result
  - netchaos_experiment_in_progress: Gauge, 1 while an experiment runs
*/
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "netchaos"

// Recorder receives engine events.
type Recorder interface {
	UnitDispatched(mode, params string)
	UnitTerminal(status string, elapsed time.Duration)
	BatchCompleted(mode, result string, elapsed time.Duration)
	PollError()
	CleanupError(step string)
	ProbeCompleted(result string)
	ExperimentStarted()
	ExperimentCompleted(success bool)
}

// =============================================================================
// NoOp
// =============================================================================

// NoOp counts events without exporting them.
type NoOp struct {
	dispatched    atomic.Int64
	terminal      atomic.Int64
	batches       atomic.Int64
	pollErrors    atomic.Int64
	cleanupErrors atomic.Int64
	probes        atomic.Int64
	experiments   atomic.Int64
}

// NewNoOp returns a NoOp recorder.
func NewNoOp() *NoOp { return &NoOp{} }

func (m *NoOp) UnitDispatched(string, string)                { m.dispatched.Add(1) }
func (m *NoOp) UnitTerminal(string, time.Duration)           { m.terminal.Add(1) }
func (m *NoOp) BatchCompleted(string, string, time.Duration) { m.batches.Add(1) }
func (m *NoOp) PollError()                                   { m.pollErrors.Add(1) }
func (m *NoOp) CleanupError(string)                          { m.cleanupErrors.Add(1) }
func (m *NoOp) ProbeCompleted(string)                        { m.probes.Add(1) }
func (m *NoOp) ExperimentStarted()                           {}
func (m *NoOp) ExperimentCompleted(bool)                     { m.experiments.Add(1) }
func (m *NoOp) Dispatched() int64                            { return m.dispatched.Load() }
func (m *NoOp) Terminal() int64                              { return m.terminal.Load() }
func (m *NoOp) Batches() int64                               { return m.batches.Load() }
func (m *NoOp) PollErrors() int64                            { return m.pollErrors.Load() }
func (m *NoOp) CleanupErrors() int64                         { return m.cleanupErrors.Load() }
func (m *NoOp) Probes() int64                                { return m.probes.Load() }
func (m *NoOp) Experiments() int64                           { return m.experiments.Load() }

// =============================================================================
// Prometheus
// =============================================================================

// Prometheus exports engine events as Prometheus collectors.
type Prometheus struct {
	unitsDispatched *prometheus.CounterVec
	unitsTerminal   *prometheus.CounterVec
	unitDuration    prometheus.Histogram
	batches         *prometheus.CounterVec
	batchDuration   prometheus.Histogram
	pollErrors      prometheus.Counter
	cleanupErrors   *prometheus.CounterVec
	probes          *prometheus.CounterVec
	experiments     *prometheus.CounterVec
	inProgress      prometheus.Gauge

	mu         sync.Mutex
	registered bool
}

// NewPrometheus creates the collectors. Call Register before use.
func NewPrometheus() *Prometheus {
	durations := []float64{5, 15, 30, 60, 120, 300, 600, 1200, 3600}
	return &Prometheus{
		unitsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "units_dispatched_total",
			Help: "Execution units dispatched by mode and parameter set",
		}, []string{"mode", "params"}),
		unitsTerminal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "units_terminal_total",
			Help: "Execution units reaching a terminal status",
		}, []string{"status"}),
		unitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "unit_duration_seconds",
			Help: "Time from dispatch to terminal status", Buckets: durations,
		}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "batches_total",
			Help: "Completion batches by mode and result",
		}, []string{"mode", "result"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "batch_duration_seconds",
			Help: "Wall time of a completion batch", Buckets: durations,
		}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "poll_errors_total",
			Help: "Transient failures reading a unit's status",
		}),
		cleanupErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cleanup_errors_total",
			Help: "Swallowed cleanup failures by step",
		}, []string{"step"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "probes_total",
			Help: "Interface probes by result",
		}, []string{"result"}),
		experiments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "experiments_total",
			Help: "Experiments by result",
		}, []string{"result"}),
		inProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "experiment_in_progress",
			Help: "1 while an experiment is running",
		}),
	}
}

// Register registers every collector on reg. Calling it twice is a no-op.
func (m *Prometheus) Register(reg prometheus.Registerer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registered {
		return nil
	}
	for _, c := range []prometheus.Collector{
		m.unitsDispatched, m.unitsTerminal, m.unitDuration, m.batches, m.batchDuration,
		m.pollErrors, m.cleanupErrors, m.probes, m.experiments, m.inProgress,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	m.registered = true
	return nil
}

func (m *Prometheus) UnitDispatched(mode, params string) {
	m.unitsDispatched.WithLabelValues(mode, params).Inc()
}

func (m *Prometheus) UnitTerminal(status string, elapsed time.Duration) {
	m.unitsTerminal.WithLabelValues(status).Inc()
	m.unitDuration.Observe(elapsed.Seconds())
}

func (m *Prometheus) BatchCompleted(mode, result string, elapsed time.Duration) {
	m.batches.WithLabelValues(mode, result).Inc()
	m.batchDuration.Observe(elapsed.Seconds())
}

func (m *Prometheus) PollError() { m.pollErrors.Inc() }

func (m *Prometheus) CleanupError(step string) { m.cleanupErrors.WithLabelValues(step).Inc() }

func (m *Prometheus) ProbeCompleted(result string) { m.probes.WithLabelValues(result).Inc() }

func (m *Prometheus) ExperimentStarted() { m.inProgress.Set(1) }

func (m *Prometheus) ExperimentCompleted(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.experiments.WithLabelValues(result).Inc()
	m.inProgress.Set(0)
}

var (
	_ Recorder = (*NoOp)(nil)
	_ Recorder = (*Prometheus)(nil)
)
