// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command netchaos injects network impairments into Kubernetes nodes with
// tc/netem and guarantees they are reverted.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/chaoserr"
)

func main() {
	os.Exit(execute(context.Background(), newApp(os.Stdout, os.Stderr), os.Args[1:]))
}

// execute runs the command line and maps the result to an exit code.
func execute(ctx context.Context, a *app, args []string) int {
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
	}
	return chaoserr.ExitCode(err)
}
