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
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/backend"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/backend/kube"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/chaoserr"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/poll"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/settings"
	"github.com/AleutianAI/netchaos/pkg/logging"
	"github.com/AleutianAI/netchaos/pkg/ux"
)

// Set at build time with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

// app carries what every command needs once flags are parsed. Tests swap
// newBackend, clock and newRunID.
type app struct {
	stdout io.Writer
	stderr io.Writer

	settings *settings.Settings
	logger   *logging.Logger
	printer  *ux.Printer

	newBackend func(s *settings.Settings, logger *slog.Logger) (backend.Backend, error)
	clock      poll.Clock
	newRunID   func() string
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout:     stdout,
		stderr:     stderr,
		newBackend: kubeBackend,
		clock:      poll.RealClock(),
		newRunID:   uuid.NewString,
	}
}

func kubeBackend(s *settings.Settings, logger *slog.Logger) (backend.Backend, error) {
	b, err := kube.NewFromKubeconfig(s.Kubeconfig, kube.Config{
		Namespace: s.Namespace,
		Image:     s.Image,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "netchaos",
		Short: "Inject network impairments into Kubernetes nodes",
		Long: `netchaos applies latency, loss, bandwidth limits and other tc/netem
impairments to the interfaces of Kubernetes nodes for a bounded time, using
short-lived privileged jobs, and always removes them afterwards.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Close()
			}
		},
	}
	settings.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		newRunCmd(a),
		newValidateCmd(a),
		newRenderCmd(a),
		newHistoryCmd(a),
		newVersionCmd(a),
	)
	return root
}

// init loads settings and builds the logger and printer.
func (a *app) init(cmd *cobra.Command) error {
	s, err := settings.Load(cmd.Flags())
	if err != nil {
		return chaoserr.Configuration("load settings", err)
	}
	level, err := logging.ParseLevel(s.Log.Level)
	if err != nil {
		return chaoserr.Configuration("load settings", err)
	}

	a.settings = s
	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  s.Log.Dir,
		Service: "netchaos",
		JSON:    s.Log.JSON,
		Output:  a.stderr,
	})

	personality := ux.DetectPersonality(a.stdout)
	if s.Output != "" {
		personality = ux.ParsePersonalityLevel(s.Output)
	}
	a.printer = &ux.Printer{Out: a.stdout, Err: a.stderr, Level: personality}
	return nil
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the netchaos version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "netchaos %s (%s)\n", version, commit)
		},
	}
}
