// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/backend"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/metrics"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/telemetry"
)

// CleanupError records a swallowed failure while releasing a unit.
type CleanupError struct {
	Unit  string
	Step  string
	Error error
}

// ledger guarantees every dispatched unit is released exactly once.
//
// Release of a unit captures diagnostics when the unit Failed or TimedOut,
// then deletes its job. Failures are logged, counted and recorded, never
// returned: cleanup must not mask the error that triggered it. releaseAll
// walks units in reverse dispatch order, like compensating a saga.
//
// Thread Safety: Safe for concurrent use. Unit fields are written under mu,
// the same mutex the orchestrator's Snapshot reads under.
type ledger struct {
	runner  backend.JobRunner
	logger  *slog.Logger
	metrics metrics.Recorder
	timeout time.Duration

	mu       *sync.Mutex
	units    []*Unit
	released map[string]bool
	errors   []CleanupError
}

func newLedger(runner backend.JobRunner, mu *sync.Mutex, logger *slog.Logger, m metrics.Recorder, timeout time.Duration) *ledger {
	return &ledger{
		runner:   runner,
		logger:   logger,
		metrics:  m,
		timeout:  timeout,
		mu:       mu,
		released: make(map[string]bool),
	}
}

// register records a dispatched unit. Caller holds mu.
func (l *ledger) register(u *Unit) {
	l.units = append(l.units, u)
}

// release captures diagnostics if needed and deletes u's job, at most once.
func (l *ledger) release(ctx context.Context, u *Unit) {
	l.mu.Lock()
	if l.released[u.ID] {
		l.mu.Unlock()
		return
	}
	l.released[u.ID] = true
	status := u.Status
	l.mu.Unlock()

	// Cleanup runs even when the caller's context is done.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()

	var err error
	ctx, finish := telemetry.StartSpan(ctx, "netchaos.unit.cleanup",
		attribute.String("unit", u.ID), attribute.String("status", string(status)))
	defer func() { finish(err) }()

	if status.needsDiagnostics() {
		diag := l.capture(ctx, u)
		l.mu.Lock()
		u.Diagnostics = diag
		l.mu.Unlock()
		l.logger.Warn("unit did not succeed",
			"unit", u.ID, "node", u.Node, "status", status, "pods", len(diag.Pods))
	}

	if err = l.runner.DeleteJob(ctx, u.ID); err != nil {
		l.fail(u.ID, "delete", err)
		return
	}
	l.logger.Info("unit released", "unit", u.ID, "node", u.Node, "status", status)
}

// releaseBatch releases every registered unit of b.
func (l *ledger) releaseBatch(ctx context.Context, b *Batch) {
	for _, u := range b.Units {
		l.mu.Lock()
		registered := l.isRegistered(u)
		l.mu.Unlock()
		if registered {
			l.release(ctx, u)
		}
	}
}

// releaseAll releases every unreleased unit, newest first.
func (l *ledger) releaseAll(ctx context.Context) {
	l.mu.Lock()
	units := append([]*Unit(nil), l.units...)
	l.mu.Unlock()

	for i := len(units) - 1; i >= 0; i-- {
		l.release(ctx, units[i])
	}
}

// cleanupErrors returns a copy of the swallowed failures.
func (l *ledger) cleanupErrors() []CleanupError {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]CleanupError(nil), l.errors...)
}

func (l *ledger) isRegistered(u *Unit) bool {
	for _, r := range l.units {
		if r == u {
			return true
		}
	}
	return false
}

func (l *ledger) capture(ctx context.Context, u *Unit) *Diagnostics {
	diag := &Diagnostics{Logs: make(map[string]string)}

	pods, err := l.runner.ListPods(ctx, "job-name="+u.ID)
	if err != nil {
		l.fail(u.ID, "diagnostics", err)
		diag.Errors = append(diag.Errors, fmt.Sprintf("list pods: %v", err))
		return diag
	}
	for _, pod := range pods {
		info, err := l.runner.ReadPod(ctx, pod)
		if err != nil {
			l.fail(u.ID, "diagnostics", err)
			diag.Errors = append(diag.Errors, fmt.Sprintf("read pod %s: %v", pod, err))
		} else {
			diag.Pods = append(diag.Pods, info)
		}

		log, err := l.runner.ReadPodLog(ctx, pod)
		if err != nil {
			l.fail(u.ID, "diagnostics", err)
			diag.Errors = append(diag.Errors, fmt.Sprintf("read log %s: %v", pod, err))
			continue
		}
		diag.Logs[pod] = string(log)
	}
	return diag
}

func (l *ledger) fail(unit, step string, err error) {
	l.logger.Error("cleanup step failed", "unit", unit, "step", step, "error", err)
	l.metrics.CleanupError(step)
	l.mu.Lock()
	l.errors = append(l.errors, CleanupError{Unit: unit, Step: step, Error: err})
	l.mu.Unlock()
}
