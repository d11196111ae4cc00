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
	"strconv"
	"strings"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/orchestrator"
)

// Measurements written by InfluxSink.
const (
	MeasurementRun   = "netchaos_run"
	MeasurementBatch = "netchaos_batch"
)

// InfluxConfig locates the bucket runs are annotated in.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxSink writes one point per run and one per round so dashboards can
// overlay chaos windows on application metrics.
//
// Thread Safety: Safe for concurrent use.
type InfluxSink struct {
	client influxdb2.Client
	writer api.WriteAPIBlocking
}

// NewInfluxSink returns an InfluxSink. No connection is made until the
// first Publish.
func NewInfluxSink(cfg InfluxConfig) (*InfluxSink, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, errors.New("influx: url, org and bucket are required")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSink{
		client: client,
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

// Name implements Sink.
func (s *InfluxSink) Name() string { return "influx" }

// Publish implements Sink.
func (s *InfluxSink) Publish(ctx context.Context, r Report) error {
	if err := s.writer.WritePoint(ctx, points(r)...); err != nil {
		return fmt.Errorf("influx: write %s: %w", r.RunID, err)
	}
	return nil
}

// Close implements Sink.
func (s *InfluxSink) Close() error {
	s.client.Close()
	return nil
}

func points(r Report) []*write.Point {
	total, failed := r.UnitCount(orchestrator.StatusFailed)
	_, timedOut := r.UnitCount(orchestrator.StatusTimedOut)

	out := []*write.Point{influxdb2.NewPoint(MeasurementRun,
		map[string]string{
			"scenario":  r.Scenario,
			"mode":      r.Config.Mode,
			"direction": r.Config.Direction,
			"success":   strconv.FormatBool(r.Success),
		},
		map[string]interface{}{
			"run_id":           r.RunID,
			"params":           strings.Join(r.Config.Params, ","),
			"duration_seconds": r.Elapsed().Seconds(),
			"start_unix":       r.Start.Unix(),
			"units":            total,
			"failed_units":     failed,
			"timed_out_units":  timedOut,
		},
		r.End)}

	for _, b := range r.Batches {
		if b.End.IsZero() {
			continue
		}
		out = append(out, influxdb2.NewPoint(MeasurementBatch,
			map[string]string{
				"scenario": r.Scenario,
				"round":    strconv.Itoa(b.Round),
				"params":   strings.Join(b.Params, "-"),
			},
			map[string]interface{}{
				"run_id":           r.RunID,
				"units":            len(b.Units),
				"duration_seconds": b.End.Sub(b.Start).Seconds(),
				"failed":           b.Error != "",
			},
			b.End))
	}
	return out
}
