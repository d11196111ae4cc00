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
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/scenario"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate SCENARIO...",
		Short: "Check scenario files without touching a cluster",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.validate(args)
		},
	}
}

// validate checks every file and reports each one; the first error is
// returned after all files were checked.
func (a *app) validate(paths []string) error {
	var first error
	for _, p := range paths {
		exp, err := scenario.Load(p)
		if err != nil {
			a.printer.Error(fmt.Sprintf("%s: %v", filepath.Base(p), err))
			if first == nil {
				first = err
			}
			continue
		}
		rounds := 1
		if exp.Mode == scenario.Serial {
			rounds = len(exp.Params)
		}
		a.printer.Success(fmt.Sprintf("%s: %s, %d round(s)", exp.Name, exp.Summary(), rounds))
	}
	return first
}
