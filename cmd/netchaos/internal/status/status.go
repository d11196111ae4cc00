// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package status publishes the result of each experiment run.
//
// A Report is built from the orchestrator's Outcome once a run ends and is
// handed to every configured Sink: the log, the local run history, an
// InfluxDB bucket and a Prometheus Pushgateway. Publication is best effort;
// a failing sink never changes the run's result.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/orchestrator"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/scenario"
)

// Report is what sinks receive for one run.
type Report struct {
	RunID    string                     `json:"run_id"`
	Scenario string                     `json:"scenario"`
	Config   RunConfig                  `json:"config"`
	Failures []string                   `json:"failures,omitempty"`
	Start    time.Time                  `json:"start"`
	End      time.Time                  `json:"end"`
	Success  bool                       `json:"success"`
	Error    string                     `json:"error,omitempty"`
	Batches  []orchestrator.BatchReport `json:"batches"`
}

// RunConfig is the experiment as it was executed.
type RunConfig struct {
	Mode      string              `json:"mode"`
	Direction string              `json:"direction"`
	Duration  time.Duration       `json:"duration"`
	Params    []string            `json:"params"`
	Targets   map[string][]string `json:"targets"`
}

// FromOutcome builds a Report. out must not be nil.
func FromOutcome(out *orchestrator.Outcome) Report {
	return Report{
		RunID:    out.RunID,
		Scenario: out.Scenario,
		Config: RunConfig{
			Mode:      out.Mode,
			Direction: out.Direction,
			Duration:  out.Duration,
			Params:    out.Params,
			Targets:   out.Targets,
		},
		Failures: out.Failures,
		Start:    out.Start,
		End:      out.End,
		Success:  out.Success,
		Error:    out.Error,
		Batches:  out.Batches,
	}
}

// Aborted builds the Report of a run that stopped before any unit was
// dispatched, for example because its targets could not be resolved.
func Aborted(runID string, exp *scenario.Experiment, start, end time.Time, err error) Report {
	r := Report{
		RunID:    runID,
		Scenario: exp.Name,
		Config: RunConfig{
			Mode:      string(exp.Mode),
			Direction: string(exp.Direction),
			Duration:  exp.Duration,
		},
		Start: start,
		End:   end,
	}
	for _, p := range exp.Params {
		r.Config.Params = append(r.Config.Params, p.String())
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// Elapsed is End - Start.
func (r Report) Elapsed() time.Duration {
	return r.End.Sub(r.Start)
}

// UnitCount returns the number of units in r and how many ended in s.
func (r Report) UnitCount(s orchestrator.UnitStatus) (total, matching int) {
	for _, b := range r.Batches {
		for _, u := range b.Units {
			total++
			if u.Status == s {
				matching++
			}
		}
	}
	return total, matching
}

// Sink receives reports.
type Sink interface {
	Name() string
	Publish(ctx context.Context, r Report) error
	Close() error
}

// =============================================================================
// Fan-out
// =============================================================================

// Multi publishes to several sinks in order.
//
// Thread Safety: Safe for concurrent use if every sink is.
type Multi struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewMulti returns a Multi over sinks. Nil sinks are skipped.
func NewMulti(logger *slog.Logger, sinks ...Sink) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Multi{logger: logger.With("component", "status")}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Name implements Sink.
func (m *Multi) Name() string { return "multi" }

// Publish sends r to every sink. Every sink is tried; failures are logged
// and returned joined.
func (m *Multi) Publish(ctx context.Context, r Report) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Publish(ctx, r); err != nil {
			m.logger.Warn("status publish failed", "sink", s.Name(), "run_id", r.RunID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// Log sink
// =============================================================================

// LogSink writes one structured line per run.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a LogSink. Nil means slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Name implements Sink.
func (s *LogSink) Name() string { return "log" }

// Publish implements Sink.
func (s *LogSink) Publish(ctx context.Context, r Report) error {
	total, failed := r.UnitCount(orchestrator.StatusFailed)
	_, timedOut := r.UnitCount(orchestrator.StatusTimedOut)
	level := slog.LevelInfo
	if !r.Success {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "experiment status",
		"run_id", r.RunID,
		"scenario", r.Scenario,
		"success", r.Success,
		"start", r.Start,
		"end", r.End,
		"units", total,
		"failed", failed,
		"timed_out", timedOut,
		"failures", r.Failures)
	return nil
}

// Close implements Sink.
func (s *LogSink) Close() error { return nil }
