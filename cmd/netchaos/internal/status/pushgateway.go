// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package status

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/orchestrator"
)

// PushJob is the Pushgateway job name.
const PushJob = "netchaos"

// PushSink pushes last-run gauges to a Prometheus Pushgateway, grouped by
// scenario. A CLI run ends before any scrape, so pushing is the only way its
// result reaches Prometheus.
type PushSink struct {
	url string
}

// NewPushSink returns a PushSink for the gateway at url.
func NewPushSink(url string) (*PushSink, error) {
	if url == "" {
		return nil, errors.New("pushgateway: url is required")
	}
	return &PushSink{url: url}, nil
}

// Name implements Sink.
func (s *PushSink) Name() string { return "pushgateway" }

// Publish implements Sink. The group is replaced on each push.
func (s *PushSink) Publish(ctx context.Context, r Report) error {
	gauge := func(name, help string, v float64) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "netchaos", Name: name, Help: help})
		g.Set(v)
		return g
	}
	success := 0.0
	if r.Success {
		success = 1
	}
	total, failed := r.UnitCount(orchestrator.StatusFailed)
	_, timedOut := r.UnitCount(orchestrator.StatusTimedOut)

	err := push.New(s.url, PushJob).
		Grouping("scenario", r.Scenario).
		Collector(gauge("last_run_success", "1 if the last run succeeded.", success)).
		Collector(gauge("last_run_start_timestamp_seconds", "Start of the last run.", float64(r.Start.Unix()))).
		Collector(gauge("last_run_end_timestamp_seconds", "End of the last run.", float64(r.End.Unix()))).
		Collector(gauge("last_run_duration_seconds", "Wall time of the last run.", r.Elapsed().Seconds())).
		Collector(gauge("last_run_units", "Units in the last run.", float64(total))).
		Collector(gauge("last_run_failed_units", "Units that failed in the last run.", float64(failed))).
		Collector(gauge("last_run_timed_out_units", "Units that timed out in the last run.", float64(timedOut))).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("pushgateway: push %s: %w", r.RunID, err)
	}
	return nil
}

// Close implements Sink.
func (s *PushSink) Close() error { return nil }
