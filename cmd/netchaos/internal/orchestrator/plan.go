// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/chaoserr"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/resolver"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/scenario"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/tc"
)

// PlanOptions tunes Plan.
type PlanOptions struct {
	// Prefix starts every unit id; default DefaultPrefix.
	Prefix string

	// Grace is the in-script pause after teardown; default tc.DefaultGrace.
	Grace time.Duration

	// IFBPrefix names ingress redirect devices.
	IFBPrefix string

	// AutoLimit is passed to tc.Options.
	AutoLimit bool
}

// UnitID returns "<prefix>-<param names>-<fnv32a(node) hex>", e.g.
// "netchaos-latency-loss-3b1f0c2a".
func UnitID(prefix string, params tc.Params, node string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(node))
	return fmt.Sprintf("%s-%s-%08x", prefix, strings.Join(params.Names(), "-"), h.Sum32())
}

// Plan builds every round of the experiment and generates every unit's
// script. Nothing is dispatched, so a generation failure aborts the run
// before any cluster change.
//
// Parallel mode yields one batch with one unit per node carrying all
// parameters. Serial mode yields one batch per parameter, in scenario order,
// each with one unit per node.
func Plan(exp *scenario.Experiment, targets resolver.TargetSet, opts PlanOptions) ([]*Batch, error) {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if len(targets) == 0 {
		return nil, chaoserr.Configurationf("plan experiment", "no target nodes")
	}

	var rounds []tc.Params
	switch exp.Mode {
	case scenario.Parallel:
		rounds = []tc.Params{exp.Params}
	case scenario.Serial:
		for _, p := range exp.Params {
			rounds = append(rounds, tc.Params{p})
		}
	default:
		return nil, chaoserr.Configurationf("plan experiment", "unknown execution mode %q", exp.Mode)
	}

	seen := make(map[string]bool)
	batches := make([]*Batch, 0, len(rounds))
	for i, params := range rounds {
		b := &Batch{Round: i + 1, Params: params}
		for _, t := range targets {
			script, err := tc.Generate(t.Interfaces, params, exp.Direction, exp.Duration,
				tc.Options{Grace: opts.Grace, IFBPrefix: opts.IFBPrefix, AutoLimit: opts.AutoLimit})
			if err != nil {
				return nil, err
			}
			id := UnitID(opts.Prefix, params, t.Node)
			if seen[id] {
				return nil, chaoserr.Configurationf("plan experiment", "unit id %s is not unique (node %s)", id, t.Node)
			}
			seen[id] = true
			b.Units = append(b.Units, &Unit{
				ID:     id,
				Node:   t.Node,
				Round:  b.Round,
				Params: params,
				Script: script,
				Status: StatusPending,
			})
		}
		batches = append(batches, b)
	}
	return batches, nil
}
