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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/chaoserr"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/orchestrator"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/resolver"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/scenario"
)

type renderOptions struct {
	node       string
	interfaces []string
}

func newRenderCmd(a *app) *cobra.Command {
	opts := renderOptions{}
	cmd := &cobra.Command{
		Use:   "render SCENARIO",
		Short: "Print the scripts a scenario would run on one node",
		Long: `Render plans the scenario against a single node with the given
interfaces and prints each round's script. Nothing is sent to the cluster, so
interface auto-detection is not available: pass --interfaces, or list them in
the scenario.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.render(args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.node, "node", "NODE", "node name used in unit ids")
	cmd.Flags().StringSliceVar(&opts.interfaces, "interfaces", nil, "interfaces to impair (default: the scenario's list)")
	return cmd
}

func (a *app) render(path string, opts renderOptions) error {
	exp, err := scenario.Load(path)
	if err != nil {
		return err
	}
	ifaces := opts.interfaces
	if len(ifaces) == 0 {
		ifaces = exp.InterfacesFor(opts.node)
	}
	if len(ifaces) == 0 {
		return chaoserr.Configurationf("render", "%s: no interfaces in the scenario, pass --interfaces", exp.Name)
	}

	batches, err := orchestrator.Plan(exp,
		resolver.TargetSet{{Node: opts.node, Interfaces: ifaces}},
		orchestrator.PlanOptions{
			Prefix:    a.settings.Prefix,
			Grace:     a.settings.TeardownGrace,
			IFBPrefix: a.settings.IFBPrefix,
			AutoLimit: a.settings.NetemAutoLimit,
		})
	if err != nil {
		return err
	}
	for _, b := range batches {
		for _, u := range b.Units {
			fmt.Fprintf(a.stdout, "# round %d  unit %s  params %s\n", b.Round, u.ID, u.Params)
			fmt.Fprintln(a.stdout, u.Script.Render())
		}
	}
	return nil
}
