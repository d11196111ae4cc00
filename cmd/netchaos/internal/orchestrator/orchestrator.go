// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator runs a network chaos experiment as cluster jobs.
//
// A run plans every round up front, then for each round dispatches one job
// per target node, polls until every job is terminal or the round deadline
// passes, waits the configured grace period and deletes the round's jobs.
// Parallel experiments have one round carrying all parameters; serial
// experiments have one round per parameter, strictly in order.
//
// Every dispatched job is recorded in a cleanup ledger and deleted exactly
// once, whether the run succeeds, fails or panics.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/backend"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/chaoserr"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/metrics"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/poll"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/resolver"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/scenario"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/telemetry"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// DefaultPrefix starts every unit id.
	DefaultPrefix = "netchaos"

	// DefaultPollInterval is the pause between status sweeps.
	DefaultPollInterval = 5 * time.Second

	// DefaultSafetyMargin is added to the experiment duration to form each
	// round's deadline.
	DefaultSafetyMargin = 300 * time.Second

	// DefaultCleanupTimeout bounds the release of a single unit.
	DefaultCleanupTimeout = 2 * time.Minute

	// LabelRun carries the run id on every job.
	LabelRun = "netchaos.io/run"

	// LabelRound carries the round number on every job.
	LabelRound = "netchaos.io/round"
)

// =============================================================================
// Configuration
// =============================================================================

// Config configures an Orchestrator. Zero values take the defaults above.
type Config struct {
	Prefix    string
	Image     string
	IFBPrefix string

	// AutoLimit sizes the netem queue of bandwidth units from the
	// bandwidth-delay product.
	AutoLimit bool

	// PollInterval is the pause between status sweeps of a round.
	PollInterval time.Duration

	// SafetyMargin extends each round's deadline past the experiment
	// duration.
	SafetyMargin time.Duration

	// Grace is the in-script pause after teardown.
	Grace time.Duration

	// CleanupTimeout bounds diagnostics capture and deletion per unit.
	CleanupTimeout time.Duration

	// Labels are added to every job.
	Labels map[string]string

	// Clock drives polling and the grace wait. Nil means the real clock.
	Clock poll.Clock

	// NewRunID generates run ids. Nil means a random UUID.
	NewRunID func() string

	Logger  *slog.Logger
	Metrics metrics.Recorder
}

func (c Config) withDefaults() Config {
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	c.PollInterval = poll.EnforceDefault(c.PollInterval, DefaultPollInterval)
	c.SafetyMargin = poll.EnforceDefault(c.SafetyMargin, DefaultSafetyMargin)
	c.CleanupTimeout = poll.EnforceDefault(c.CleanupTimeout, DefaultCleanupTimeout)
	if c.Clock == nil {
		c.Clock = poll.RealClock()
	}
	if c.NewRunID == nil {
		c.NewRunID = uuid.NewString
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewNoOp()
	}
	return c
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator runs experiments one at a time.
//
// Thread Safety: Run must not be called concurrently. Snapshot may be called
// from any goroutine while Run is in progress.
type Orchestrator struct {
	runner backend.JobRunner
	cfg    Config
	logger *slog.Logger

	// mu guards current and every Unit and Batch reachable from it.
	mu      sync.Mutex
	current *run
}

type run struct {
	id      string
	exp     *scenario.Experiment
	targets resolver.TargetSet
	phase   Phase
	batches []*Batch
	start   time.Time
	end     time.Time
	err     error
}

// New returns an Orchestrator dispatching through runner.
func New(runner backend.JobRunner, cfg Config) *Orchestrator {
	cfg = cfg.withDefaults()
	return &Orchestrator{
		runner: runner,
		cfg:    cfg,
		logger: cfg.Logger.With("component", "orchestrator"),
	}
}

// Run executes exp against targets.
//
// # Description
//
// All rounds are planned and their scripts generated before anything is
// dispatched, so configuration errors leave the cluster untouched. Rounds
// then run in order. Within a round every unit is dispatched before polling
// starts. A round ends when every unit is terminal; the orchestrator then
// sleeps the experiment's wait duration and deletes the round's jobs before
// starting the next round.
//
// A round whose units are not all terminal by duration + safety margin
// fails the run with a Timeout error; the outstanding units are marked
// TimedOut. A rejected job creation fails the run with a Dispatch error.
// Transient status read failures are logged and the unit stays outstanding.
//
// Whatever the exit path, including a panic, every dispatched unit is
// released exactly once before Run returns. Units that Failed or TimedOut
// have their pod state and log captured first.
//
// # Outputs
//
//   - *Outcome: always non-nil, even when err is set
//   - error: *chaoserr.Error of kind Configuration, Dispatch or Timeout;
//     chaoserr.ErrUnitsFailed when every round completed but a unit Failed
func (o *Orchestrator) Run(ctx context.Context, exp *scenario.Experiment, targets resolver.TargetSet) (out *Outcome, err error) {
	clk := o.cfg.Clock
	r := &run{
		id:      o.cfg.NewRunID(),
		exp:     exp,
		targets: targets,
		phase:   PhasePlanning,
		start:   clk.Now(),
	}
	o.mu.Lock()
	o.current = r
	o.mu.Unlock()

	logger := o.logger.With("run_id", r.id, "scenario", exp.Name)
	ctx, finish := telemetry.StartSpan(ctx, "netchaos.experiment",
		attribute.String("run_id", r.id),
		attribute.String("scenario", exp.Name),
		attribute.String("mode", string(exp.Mode)),
		attribute.String("direction", string(exp.Direction)))
	o.cfg.Metrics.ExperimentStarted()
	logger.Info("experiment starting", "summary", exp.Summary(), "nodes", targets.Nodes())

	led := newLedger(o.runner, &o.mu, logger, o.cfg.Metrics, o.cfg.CleanupTimeout)
	defer func() {
		o.setPhase(PhaseCleanup)
		led.releaseAll(ctx)

		if err == nil && o.anyUnit(StatusFailed) {
			err = chaoserr.ErrUnitsFailed
		}
		o.mu.Lock()
		r.end = clk.Now()
		r.err = err
		r.phase = PhaseCompleted
		out = r.outcome()
		o.mu.Unlock()

		if n := len(led.cleanupErrors()); n > 0 {
			logger.Warn("cleanup finished with errors", "count", n)
		}
		o.cfg.Metrics.ExperimentCompleted(out.Success)
		finish(err)
		if err != nil {
			logger.Error("experiment failed", "error", err, "failures", len(out.Failures))
		} else {
			logger.Info("experiment completed", "elapsed", r.end.Sub(r.start))
		}
	}()

	batches, err := Plan(exp, targets, PlanOptions{
		Prefix:    o.cfg.Prefix,
		Grace:     o.cfg.Grace,
		IFBPrefix: o.cfg.IFBPrefix,
		AutoLimit: o.cfg.AutoLimit,
	})
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	r.batches = batches
	r.phase = PhaseRunning
	o.mu.Unlock()

	for _, b := range batches {
		if err = o.runBatch(ctx, logger, led, r, b); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// runBatch dispatches b, waits for it, observes the grace period and
// releases its units.
func (o *Orchestrator) runBatch(ctx context.Context, logger *slog.Logger, led *ledger, r *run, b *Batch) (err error) {
	clk := o.cfg.Clock
	exp := r.exp
	ctx, finish := telemetry.StartSpan(ctx, "netchaos.batch",
		attribute.Int("round", b.Round),
		attribute.String("params", b.Params.String()),
		attribute.Int("units", len(b.Units)))
	defer func() { finish(err) }()

	o.mu.Lock()
	b.Start = clk.Now()
	r.phase = PhaseRunning
	o.mu.Unlock()

	result := "ok"
	defer func() {
		o.mu.Lock()
		b.End = clk.Now()
		b.Err = err
		elapsed := b.End.Sub(b.Start)
		o.mu.Unlock()
		o.cfg.Metrics.BatchCompleted(string(exp.Mode), result, elapsed)
	}()

	logger = logger.With("round", b.Round, "params", b.Params.String())
	logger.Info("dispatching round", "units", len(b.Units))
	if err = o.dispatch(ctx, led, r, b); err != nil {
		result = "dispatch_error"
		return err
	}

	deadline := exp.Duration + o.cfg.SafetyMargin
	err = poll.Until(ctx, poll.Options{Interval: o.cfg.PollInterval, Timeout: deadline, Clock: clk},
		func(ctx context.Context) (bool, error) {
			return o.sweep(ctx, logger, b), nil
		})
	if errors.Is(err, poll.ErrTimeout) {
		result = "timeout"
		pending := o.markTimedOut(b)
		return chaoserr.Timeout("wait for round",
			fmt.Errorf("round %d: units %v not finished after %v", b.Round, pending, deadline))
	}
	if err != nil {
		result = "error"
		return err
	}
	if o.countIn(b, StatusFailed) > 0 {
		result = "failed"
	}

	if exp.WaitDuration > 0 {
		o.setPhase(PhaseGrace)
		logger.Info("waiting before cleanup", "wait", exp.WaitDuration)
		if err = clk.Sleep(ctx, exp.WaitDuration); err != nil {
			result = "error"
			return fmt.Errorf("grace wait: %w", err)
		}
	}

	o.setPhase(PhaseCleanup)
	led.releaseBatch(ctx, b)
	logger.Info("round complete")
	return nil
}

// dispatch creates one job per unit of b. Each unit is registered with the
// ledger before its job is created: a create that fails after the API
// accepted it still leaves a job behind.
func (o *Orchestrator) dispatch(ctx context.Context, led *ledger, r *run, b *Batch) error {
	for _, u := range b.Units {
		labels := map[string]string{
			resolver.LabelRole: "unit",
			LabelRun:           r.id,
			LabelRound:         strconv.Itoa(b.Round),
		}
		maps.Copy(labels, o.cfg.Labels)

		o.mu.Lock()
		led.register(u)
		o.mu.Unlock()

		_, err := o.runner.CreateJob(ctx, backend.JobSpec{
			Name:    u.ID,
			Node:    u.Node,
			Image:   o.cfg.Image,
			Command: u.Script.Command(),
			Labels:  labels,
		})
		if err != nil {
			return chaoserr.Dispatch("create job", u.Node, u.ID, err)
		}

		o.mu.Lock()
		u.Status = StatusDispatched
		u.DispatchedAt = o.cfg.Clock.Now()
		o.mu.Unlock()
		o.cfg.Metrics.UnitDispatched(string(r.exp.Mode), u.Params.String())
		o.logger.Debug("unit dispatched", "unit", u.ID, "node", u.Node)
	}
	return nil
}

// sweep reads the status of every outstanding unit once and reports whether
// none remain.
func (o *Orchestrator) sweep(ctx context.Context, logger *slog.Logger, b *Batch) bool {
	done := true
	for _, u := range b.Units {
		o.mu.Lock()
		terminal := u.Status.Terminal()
		o.mu.Unlock()
		if terminal {
			continue
		}

		st, err := o.runner.GetJobStatus(ctx, u.ID)
		if err != nil {
			o.cfg.Metrics.PollError()
			logger.Warn("status read failed, will retry", "error", chaoserr.Poll(u.ID, err))
			done = false
			continue
		}
		if !st.Terminal() {
			done = false
			continue
		}

		status := StatusSucceeded
		if st.FailedState() {
			status = StatusFailed
		}
		now := o.cfg.Clock.Now()
		o.mu.Lock()
		u.Status = status
		u.FinishedAt = now
		elapsed := now.Sub(u.DispatchedAt)
		o.mu.Unlock()
		o.cfg.Metrics.UnitTerminal(string(status), elapsed)
		logger.Info("unit finished", "unit", u.ID, "node", u.Node, "status", status, "elapsed", elapsed)
	}
	return done
}

// markTimedOut moves every non-terminal dispatched unit of b to TimedOut and
// returns their ids.
func (o *Orchestrator) markTimedOut(b *Batch) []string {
	now := o.cfg.Clock.Now()
	o.mu.Lock()
	defer o.mu.Unlock()
	var ids []string
	for _, u := range b.Units {
		if u.Status == StatusDispatched {
			u.Status = StatusTimedOut
			u.FinishedAt = now
			ids = append(ids, u.ID)
			o.cfg.Metrics.UnitTerminal(string(StatusTimedOut), now.Sub(u.DispatchedAt))
		}
	}
	return ids
}

func (o *Orchestrator) countIn(b *Batch, s UnitStatus) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, u := range b.Units {
		if u.Status == s {
			n++
		}
	}
	return n
}

func (o *Orchestrator) anyUnit(s UnitStatus) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return false
	}
	for _, b := range o.current.batches {
		for _, u := range b.Units {
			if u.Status == s {
				return true
			}
		}
	}
	return false
}

func (o *Orchestrator) setPhase(p Phase) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != nil {
		o.current.phase = p
	}
}

// =============================================================================
// Reporting
// =============================================================================

// Snapshot returns a copy of the current or most recent run, or nil before
// the first Run.
func (o *Orchestrator) Snapshot() *Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return nil
	}
	return o.current.outcome()
}

// outcome builds a deep copy of r. Caller holds the orchestrator's mu.
func (r *run) outcome() *Outcome {
	out := &Outcome{
		RunID:     r.id,
		Scenario:  r.exp.Name,
		Mode:      string(r.exp.Mode),
		Direction: string(r.exp.Direction),
		Duration:  r.exp.Duration,
		Targets:   r.targets.Map(),
		Phase:     r.phase,
		Start:     r.start,
		End:       r.end,
	}
	for _, p := range r.exp.Params {
		out.Params = append(out.Params, p.String())
	}

	for _, b := range r.batches {
		br := BatchReport{
			Round:  b.Round,
			Params: b.Params.Names(),
			Start:  b.Start,
			End:    b.End,
		}
		if b.Err != nil {
			br.Error = b.Err.Error()
		}
		for _, u := range b.Units {
			br.Units = append(br.Units, UnitReport{
				ID:           u.ID,
				Node:         u.Node,
				Params:       u.Params.String(),
				Status:       u.Status,
				DispatchedAt: u.DispatchedAt,
				FinishedAt:   u.FinishedAt,
				Diagnostics:  u.Diagnostics.clone(),
			})
			if u.Status.needsDiagnostics() {
				out.Failures = append(out.Failures,
					fmt.Sprintf("unit %s on node %s: %s", u.ID, u.Node, u.Status))
			}
		}
		out.Batches = append(out.Batches, br)
	}

	if r.err != nil {
		out.Error = r.err.Error()
		if !errors.Is(r.err, chaoserr.ErrUnitsFailed) {
			out.Failures = append(out.Failures, r.err.Error())
		}
	}
	out.Success = r.phase == PhaseCompleted && r.err == nil
	return out
}

func (d *Diagnostics) clone() *Diagnostics {
	if d == nil {
		return nil
	}
	return &Diagnostics{
		Pods:   append([]backend.PodInfo(nil), d.Pods...),
		Logs:   maps.Clone(d.Logs),
		Errors: append([]string(nil), d.Errors...),
	}
}
