// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/chaoserr"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/lock"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/metrics"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/orchestrator"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/resolver"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/scenario"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/status"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/statusapi"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/telemetry"
)

// shutdownTimeout bounds flushing traces and stopping the status API.
const shutdownTimeout = 5 * time.Second

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run SCENARIO...",
		Short: "Run one or more network chaos scenarios",
		Long: `Run loads every scenario file up front, takes the per-namespace
experiment lock and then runs the scenarios one after another.

A scenario whose units fail does not stop the sequence. Any other error
(resolution, dispatch, timeout) stops it and the remaining scenarios are
skipped. The exit code reflects the first error.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), args)
		},
	}
}

// run executes the scenarios at paths in order.
func (a *app) run(ctx context.Context, paths []string) error {
	s := a.settings
	logger := a.logger.Slog()

	exps, err := scenario.LoadAll(paths)
	if err != nil {
		return err
	}

	lk := lock.New(lock.Config{Dir: s.LockDir, Namespace: s.Namespace})
	if err := lk.Acquire(); err != nil {
		return chaoserr.Configuration("acquire experiment lock", err)
	}
	defer func() {
		if err := lk.Release(); err != nil {
			logger.Warn("release experiment lock", "error", err)
		}
	}()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "netchaos",
		ServiceVersion: version,
		TraceExporter:  s.Trace.Exporter,
		OTLPEndpoint:   s.Trace.OTLPEndpoint,
		OTLPInsecure:   s.Trace.OTLPInsecure,
		Writer:         a.stderr,
	})
	if err != nil {
		return chaoserr.Configuration("init tracing", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("flush traces", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	recorder := metrics.NewPrometheus()
	if err := recorder.Register(reg); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	be, err := a.newBackend(s, logger)
	if err != nil {
		return chaoserr.Configuration("connect to cluster", err)
	}

	sink, history := a.openSinks(logger)
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Warn("close status sinks", "error", err)
		}
	}()

	res := resolver.New(be, resolver.Config{
		Prefix:       s.Prefix,
		ProbeImage:   s.Image,
		ProbeTimeout: s.ProbeTimeout,
		Concurrency:  s.Concurrency,
		Logger:       logger,
		Metrics:      recorder,
	})
	orch := orchestrator.New(be, orchestrator.Config{
		Prefix:         s.Prefix,
		Image:          s.Image,
		IFBPrefix:      s.IFBPrefix,
		AutoLimit:      s.NetemAutoLimit,
		PollInterval:   s.PollInterval,
		SafetyMargin:   s.SafetyMargin,
		Grace:          s.TeardownGrace,
		CleanupTimeout: s.CleanupTimeout,
		Clock:          a.clock,
		NewRunID:       a.newRunID,
		Logger:         logger,
		Metrics:        recorder,
	})

	if s.MetricsAddr != "" {
		cfg := statusapi.Config{Addr: s.MetricsAddr, Source: orch, Gatherer: reg, Logger: logger}
		if history != nil {
			cfg.History = history
		}
		srv, err := statusapi.Start(cfg)
		if err != nil {
			return chaoserr.Configuration("start status API", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				logger.Warn("stop status API", "error", err)
			}
		}()
	}

	var first error
	for i, exp := range exps {
		err := a.runScenario(ctx, res, orch, sink, exp)
		if err == nil {
			continue
		}
		if first == nil {
			first = err
		}
		if !errors.Is(err, chaoserr.ErrUnitsFailed) {
			if skipped := len(exps) - i - 1; skipped > 0 {
				logger.Error("stopping after failed scenario", "scenario", exp.Name, "skipped", skipped)
			}
			break
		}
	}
	return first
}

// runScenario resolves, runs and reports one experiment.
func (a *app) runScenario(ctx context.Context, res *resolver.Resolver, orch *orchestrator.Orchestrator, sink status.Sink, exp *scenario.Experiment) error {
	logger := a.logger.Slog().With("scenario", exp.Name)
	a.printer.Title(fmt.Sprintf("%s: %s", exp.Name, exp.Summary()))

	start := a.clock.Now()
	targets, err := res.Resolve(ctx, resolver.RequestFor(exp))
	if err != nil {
		a.printer.Error(fmt.Sprintf("%s: %v", exp.Name, err))
		report := status.Aborted(a.newRunID(), exp, start, a.clock.Now(), err)
		if perr := sink.Publish(ctx, report); perr != nil {
			logger.Warn("status not fully published", "error", perr)
		}
		return err
	}
	logger.Info("targets resolved", "targets", targets.Map())

	out, err := orch.Run(ctx, exp, targets)
	if out != nil {
		report := status.FromOutcome(out)
		if perr := sink.Publish(ctx, report); perr != nil {
			logger.Warn("status not fully published", "error", perr)
		}
		a.printer.Summary(summaryOf(report))
	}
	return err
}

// openSinks builds the status fan-out. The log sink is always present;
// history, InfluxDB and Pushgateway are added when configured. A sink that
// cannot be set up is logged and left out, since reporting must never block
// an experiment. history is nil when the run history is unavailable.
func (a *app) openSinks(logger *slog.Logger) (sink *status.Multi, history *status.HistoryStore) {
	s := a.settings
	sinks := []status.Sink{status.NewLogSink(logger)}

	if s.HistoryDir != "" {
		h, err := status.OpenHistory(status.HistoryConfig{Dir: s.HistoryDir, Logger: logger})
		if err != nil {
			logger.Warn("run history disabled", "dir", s.HistoryDir, "error", err)
		} else {
			history = h
			sinks = append(sinks, h)
		}
	}
	if s.Influx.URL != "" {
		in, err := status.NewInfluxSink(status.InfluxConfig{
			URL:    s.Influx.URL,
			Token:  s.Influx.Token,
			Org:    s.Influx.Org,
			Bucket: s.Influx.Bucket,
		})
		if err != nil {
			logger.Warn("influx sink disabled", "error", err)
		} else {
			sinks = append(sinks, in)
		}
	}
	if s.PushgatewayURL != "" {
		push, err := status.NewPushSink(s.PushgatewayURL)
		if err != nil {
			logger.Warn("pushgateway sink disabled", "error", err)
		} else {
			sinks = append(sinks, push)
		}
	}
	return status.NewMulti(logger, sinks...), history
}
