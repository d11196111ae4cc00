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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/backend"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/chaoserr"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/lock"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/poll"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/settings"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/status"
)

const serialScenario = `
network_chaos:
  duration: 30
  wait_duration: 0
  node_name: node-a
  interfaces: [eth0]
  execution: serial
  egress:
    latency: 50ms
    loss: 1%
`

// harness runs the CLI against an in-memory backend with a fake clock.
type harness struct {
	t       *testing.T
	fake    *backend.Fake
	dir     string
	stdout  bytes.Buffer
	stderr  bytes.Buffer
	runs    int
	baseArg []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	h := &harness{
		t: t,
		fake: backend.NewFake(backend.FakeNode{
			Name:         "node-a",
			Interfaces:   []string{"lo", "eth0"},
			DefaultRoute: "eth0",
		}),
		dir: dir,
		baseArg: []string{
			"--lock-dir", filepath.Join(dir, "lock"),
			"--history-dir", filepath.Join(dir, "history"),
			"--output", "machine",
		},
	}
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "lock"), 0o750))
	return h
}

func (h *harness) scenario(name, body string) string {
	h.t.Helper()
	path := filepath.Join(h.dir, name)
	require.NoError(h.t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func (h *harness) exec(args ...string) int {
	h.stdout.Reset()
	h.stderr.Reset()
	a := newApp(&h.stdout, &h.stderr)
	a.newBackend = func(*settings.Settings, *slog.Logger) (backend.Backend, error) { return h.fake, nil }
	a.clock = poll.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	a.newRunID = func() string {
		h.runs++
		return fmt.Sprintf("run-%d", h.runs)
	}
	return execute(context.Background(), a, append(args, h.baseArg...))
}

// =============================================================================
// version / validate / render
// =============================================================================

func TestVersion(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, chaoserr.ExitOK, h.exec("version"))
	assert.Equal(t, "netchaos dev (none)\n", h.stdout.String())
}

func TestValidate(t *testing.T) {
	h := newHarness(t)
	good := h.scenario("good.yaml", serialScenario)
	bad := h.scenario("bad.yaml", "network_chaos:\n  node_name: node-a\n  execution: sideways\n")

	require.Equal(t, chaoserr.ExitOK, h.exec("validate", good))
	assert.Contains(t, h.stdout.String(), "OK: good.yaml: serial egress")
	assert.Contains(t, h.stdout.String(), "2 round(s)")

	assert.Equal(t, chaoserr.ExitConfiguration, h.exec("validate", good, bad))
	assert.Contains(t, h.stdout.String(), "good.yaml", "valid files are still reported")
	assert.Contains(t, h.stderr.String(), "bad.yaml")
	assert.Empty(t, h.fake.Calls(), "validate never touches the cluster")
}

func TestRender(t *testing.T) {
	h := newHarness(t)
	path := h.scenario("render.yaml", serialScenario)

	require.Equal(t, chaoserr.ExitOK, h.exec("render", path, "--node", "worker-1", "--interfaces", "eth1,eth2"))
	out := h.stdout.String()
	assert.Equal(t, 2, strings.Count(out, "# round "), "one script per serial round")
	assert.Contains(t, out, "tc qdisc add dev eth1 root netem delay 50ms")
	assert.Contains(t, out, "tc qdisc add dev eth2 root netem loss 1%")
	assert.Empty(t, h.fake.Calls())
}

func TestRender_NeedsInterfaces(t *testing.T) {
	h := newHarness(t)
	path := h.scenario("auto.yaml", "network_chaos:\n  node_name: node-a\n")
	assert.Equal(t, chaoserr.ExitConfiguration, h.exec("render", path))
	assert.Contains(t, h.stderr.String(), "--interfaces")
}

// =============================================================================
// run
// =============================================================================

func TestRun_SucceedsAndRecordsHistory(t *testing.T) {
	h := newHarness(t)
	path := h.scenario("ok.yaml", serialScenario)

	require.Equal(t, chaoserr.ExitOK, h.exec("run", path), h.stderr.String())
	assert.Contains(t, h.stdout.String(), "RUN\trun-1\tok.yaml\tok")
	assert.Equal(t, 2, strings.Count(h.stdout.String(), "UNIT\t"))
	assert.Empty(t, h.fake.LiveJobs(), "every job deleted")
	assert.Empty(t, h.fake.LivePods(), "every probe pod deleted")

	require.Equal(t, chaoserr.ExitOK, h.exec("history", "--json"))
	var reports []status.Report
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &reports))
	require.Len(t, reports, 1)
	assert.Equal(t, "run-1", reports[0].RunID)
	assert.True(t, reports[0].Success)

	require.Equal(t, chaoserr.ExitOK, h.exec("history", "run-1"))
	assert.Contains(t, h.stdout.String(), "RUN\trun-1")
	assert.Equal(t, chaoserr.ExitConfiguration, h.exec("history", "run-404"))
}

func TestRun_FailedUnitsContinueToNextScenario(t *testing.T) {
	h := newHarness(t)
	h.fake.WithStatusFunc(func(string, int) (backend.JobStatus, error) {
		return backend.JobStatus{Failed: 1}, nil
	})
	first := h.scenario("first.yaml", serialScenario)
	second := h.scenario("second.yaml", serialScenario)

	assert.Equal(t, chaoserr.ExitUnitsFailed, h.exec("run", first, second))
	out := h.stdout.String()
	assert.Contains(t, out, "RUN\trun-1\tfirst.yaml\tfailed")
	assert.Contains(t, out, "RUN\trun-2\tsecond.yaml\tfailed")
	assert.Contains(t, out, "FAILURE\t")
	assert.Empty(t, h.fake.LiveJobs())
}

func TestRun_ResolutionErrorStopsSequence(t *testing.T) {
	h := newHarness(t)
	missing := h.scenario("missing.yaml", strings.Replace(serialScenario, "node-a", "node-zz", 1))
	next := h.scenario("next.yaml", serialScenario)

	assert.Equal(t, chaoserr.ExitResolution, h.exec("run", missing, next))
	assert.Empty(t, h.fake.CallsFor(backend.OpCreateJob), "nothing dispatched")
	assert.NotContains(t, h.stdout.String(), "next.yaml")
	require.Equal(t, chaoserr.ExitOK, h.exec("history", "--json"))
	var reports []status.Report
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &reports))
	require.Len(t, reports, 1, "the aborted scenario is recorded, the skipped one is not")
	assert.Equal(t, "missing.yaml", reports[0].Scenario)
	assert.False(t, reports[0].Success)
	assert.NotEmpty(t, reports[0].Error)
	assert.Empty(t, reports[0].Batches)
}

func TestRun_InvalidScenarioDispatchesNothing(t *testing.T) {
	h := newHarness(t)
	good := h.scenario("good.yaml", serialScenario)
	bad := h.scenario("bad.yaml", "network_chaos:\n  egress:\n    latency: fast\n")

	assert.Equal(t, chaoserr.ExitConfiguration, h.exec("run", good, bad))
	assert.Empty(t, h.fake.Calls())
}

func TestRun_LockHeld(t *testing.T) {
	h := newHarness(t)
	path := h.scenario("ok.yaml", serialScenario)

	other := lock.New(lock.Config{Dir: filepath.Join(h.dir, "lock"), Namespace: "default"})
	require.NoError(t, other.Acquire())
	defer other.Release()

	assert.Equal(t, chaoserr.ExitConfiguration, h.exec("run", path))
	assert.Contains(t, h.stderr.String(), "lock")
	assert.Empty(t, h.fake.Calls())
}

func TestRun_BadSettings(t *testing.T) {
	h := newHarness(t)
	path := h.scenario("ok.yaml", serialScenario)
	assert.Equal(t, chaoserr.ExitConfiguration, h.exec("run", path, "--log-level", "loud"))
}
