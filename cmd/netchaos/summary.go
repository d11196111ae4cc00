// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/orchestrator"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/status"
	"github.com/AleutianAI/netchaos/pkg/ux"
)

func summaryOf(r status.Report) ux.RunSummary {
	s := ux.RunSummary{
		Title:    r.Scenario,
		RunID:    r.RunID,
		Success:  r.Success,
		Elapsed:  r.Elapsed(),
		Failures: r.Failures,
		Fields: []ux.Field{
			{Key: "mode", Value: r.Config.Mode},
			{Key: "direction", Value: r.Config.Direction},
			{Key: "duration", Value: r.Config.Duration.String()},
			{Key: "params", Value: strings.Join(r.Config.Params, ",")},
			{Key: "targets", Value: formatTargets(r.Config.Targets)},
		},
	}
	for _, b := range r.Batches {
		round := ux.Round{Label: fmt.Sprintf("round %d  %s", b.Round, strings.Join(b.Params, ","))}
		for _, u := range b.Units {
			round.Units = append(round.Units, ux.UnitLine{
				Icon:   statusIcon(u.Status),
				Status: string(u.Status),
				Name:   u.ID,
				Detail: u.Node,
			})
		}
		s.Rounds = append(s.Rounds, round)
	}
	return s
}

func statusIcon(s orchestrator.UnitStatus) ux.Icon {
	switch s {
	case orchestrator.StatusSucceeded:
		return ux.IconSuccess
	case orchestrator.StatusFailed:
		return ux.IconError
	case orchestrator.StatusTimedOut:
		return ux.IconWarning
	default:
		return ux.IconPending
	}
}

// formatTargets renders node -> interfaces as "a[eth0] b[eth0,eth1]",
// sorted by node.
func formatTargets(targets map[string][]string) string {
	nodes := make([]string, 0, len(targets))
	for n := range targets {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = fmt.Sprintf("%s[%s]", n, strings.Join(targets[n], ","))
	}
	return strings.Join(parts, " ")
}
