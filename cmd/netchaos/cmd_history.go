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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/chaoserr"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/orchestrator"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/status"
)

type historyOptions struct {
	limit  int
	asJSON bool
}

func newHistoryCmd(a *app) *cobra.Command {
	opts := historyOptions{}
	cmd := &cobra.Command{
		Use:   "history [RUN_ID]",
		Short: "List past runs, or show one run in full",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return a.showRun(args[0], opts)
			}
			return a.listRuns(opts)
		},
	}
	cmd.Flags().IntVar(&opts.limit, "limit", 20, "maximum number of runs to list, 0 for all")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print JSON")
	return cmd
}

func (a *app) openHistory() (*status.HistoryStore, error) {
	if a.settings.HistoryDir == "" {
		return nil, chaoserr.Configurationf("open history", "history dir is not set")
	}
	h, err := status.OpenHistory(status.HistoryConfig{Dir: a.settings.HistoryDir})
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return h, nil
}

func (a *app) listRuns(opts historyOptions) error {
	h, err := a.openHistory()
	if err != nil {
		return err
	}
	defer h.Close()

	reports, err := h.List(opts.limit)
	if err != nil {
		return err
	}
	if opts.asJSON {
		if reports == nil {
			reports = []status.Report{}
		}
		return a.printJSON(reports)
	}
	if len(reports) == 0 {
		a.printer.Info("no runs recorded")
		return nil
	}
	for _, r := range reports {
		total, failed := r.UnitCount(orchestrator.StatusFailed)
		line := fmt.Sprintf("%s  %s  %s  %d units, %d failed  %s",
			r.Start.Local().Format(time.DateTime), r.RunID, r.Scenario, total, failed, r.Elapsed().Round(time.Second))
		if r.Success {
			a.printer.Success(line)
		} else {
			a.printer.Error(line)
		}
	}
	return nil
}

func (a *app) showRun(id string, opts historyOptions) error {
	h, err := a.openHistory()
	if err != nil {
		return err
	}
	defer h.Close()

	r, err := h.Get(id)
	if errors.Is(err, status.ErrNotFound) {
		return chaoserr.Configurationf("show run", "no run with id %q", id)
	}
	if err != nil {
		return err
	}
	if opts.asJSON {
		return a.printJSON(r)
	}
	a.printer.Summary(summaryOf(r))
	return nil
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
