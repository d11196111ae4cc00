// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scenario

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/chaoserr"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/tc"
)

// =============================================================================
// Parse: happy paths
// =============================================================================

func TestParse_ParallelEgressCommaSeparatedNodes(t *testing.T) {
	doc := `
network_chaos:
  duration: 120
  node_name: node-a, node-b
  interfaces: [eth0]
  execution: parallel
  egress:
    latency: 50ms
    loss: 2%
`
	e, err := Parse("parallel.yaml", []byte(doc))
	require.NoError(t, err)

	assert.Equal(t, "parallel.yaml", e.Name)
	assert.Equal(t, 120*time.Second, e.Duration)
	assert.Equal(t, DefaultWaitDuration*time.Second, e.WaitDuration)
	assert.Equal(t, []string{"node-a", "node-b"}, e.NodeNames)
	assert.Equal(t, []string{"eth0"}, e.Interfaces)
	assert.Equal(t, Parallel, e.Mode)
	assert.Equal(t, tc.Egress, e.Direction)
	assert.Equal(t, tc.Params{{Name: "latency", Value: "50ms"}, {Name: "loss", Value: "2%"}}, e.Params)
}

func TestParse_KeepsParameterOrder(t *testing.T) {
	doc := `
network_chaos:
  node_name: [node-a]
  egress:
    loss: "1"
    bandwidth: 10mbit
    latency: 5ms
`
	e, err := Parse("order", []byte(doc))
	require.NoError(t, err)
	assert.Equal(t, []string{"loss", "bandwidth", "latency"}, e.Params.Names())
}

func TestParse_Defaults(t *testing.T) {
	e, err := Parse("defaults", []byte("network_chaos:\n  label_selector: node-role.kubernetes.io/worker=\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultDuration*time.Second, e.Duration)
	assert.Equal(t, DefaultWaitDuration*time.Second, e.WaitDuration)
	assert.Equal(t, DefaultInstanceCount, e.InstanceCount)
	assert.Equal(t, Serial, e.Mode)
	assert.Equal(t, tc.Egress, e.Direction)
	assert.Equal(t, tc.Params{{Name: "bandwidth", Value: DefaultBandwidth}}, e.Params)
	assert.Equal(t, "node-role.kubernetes.io/worker=", e.LabelSelector)
	assert.Empty(t, e.NodeNames)
}

func TestParse_ZeroWaitDurationIsExplicit(t *testing.T) {
	e, err := Parse("w", []byte("network_chaos:\n  node_name: n1\n  wait_duration: 0\n"))
	require.NoError(t, err)
	assert.Zero(t, e.WaitDuration)
}

func TestParse_IngressWithNodeInterfaces(t *testing.T) {
	doc := `
network_chaos:
  node_interfaces:
    worker-2: [ens5]
    worker-1: [eth0, eth1]
  ingress:
    latency: 100ms
`
	e, err := Parse("ingress", []byte(doc))
	require.NoError(t, err)

	assert.Equal(t, tc.Ingress, e.Direction)
	assert.Equal(t, []string{"worker-1", "worker-2"}, e.NodeNames, "keys name the targets, sorted")
	assert.Equal(t, []string{"eth0", "eth1"}, e.InterfacesFor("worker-1"))
	assert.Equal(t, []string{"ens5"}, e.InterfacesFor("worker-2"))
}

func TestParse_NodeNamesWinOverSelector(t *testing.T) {
	doc := `
network_chaos:
  node_name: [n1, n1, n2]
  label_selector: app=web
  interfaces: [eth0]
  node_interfaces:
    n2: [eth9]
`
	e, err := Parse("both", []byte(doc))
	require.NoError(t, err)

	assert.Equal(t, []string{"n1", "n2"}, e.NodeNames, "deduplicated, order kept")
	assert.Empty(t, e.LabelSelector)
	assert.Equal(t, []string{"eth0"}, e.InterfacesFor("n1"))
	assert.Equal(t, []string{"eth9"}, e.InterfacesFor("n2"))
}

func TestExperiment_InterfacesForReturnsCopy(t *testing.T) {
	e, err := Parse("copy", []byte("network_chaos:\n  node_name: n1\n  interfaces: [eth0]\n"))
	require.NoError(t, err)

	got := e.InterfacesFor("n1")
	got[0] = "mutated"
	assert.Equal(t, []string{"eth0"}, e.InterfacesFor("n1"))
}

// =============================================================================
// Parse: configuration errors
// =============================================================================

func TestParse_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		message string
	}{
		{"empty document", "", "empty document"},
		{"missing block", "other: 1\n", "field other not found"},
		{"no target", "network_chaos:\n  duration: 10\n", "one of node_name, node_interfaces or label_selector is required"},
		{"bad execution", "network_chaos:\n  node_name: n1\n  execution: random\n", `execution: "random" is not one of [serial parallel]`},
		{"unknown parameter", "network_chaos:\n  node_name: n1\n  egress:\n    jitter: 5ms\n", `unknown parameter "jitter"`},
		{"bad value", "network_chaos:\n  node_name: n1\n  egress:\n    latency: fast\n", "latency"},
		{"both directions", "network_chaos:\n  node_name: n1\n  egress:\n    loss: 1%\n  ingress:\n    loss: 1%\n", "mutually exclusive"},
		{"bad interface", "network_chaos:\n  node_name: n1\n  interfaces: ['eth0;reboot']\n", "not a valid interface name"},
		{"bad node name", "network_chaos:\n  node_name: Node_A\n", "not a valid node name"},
		{"bad selector", "network_chaos:\n  label_selector: 'a in (b'\n", "label_selector"},
		{"zero instance count", "network_chaos:\n  label_selector: a=b\n  instance_count: 0\n", "instance_count: must be at least 1"},
		{"zero duration", "network_chaos:\n  node_name: n1\n  duration: 0\n", "duration: must be at least 1"},
		{"unknown key", "network_chaos:\n  node_name: n1\n  nodes: [x]\n", "field nodes not found"},
		{"empty ingress", "network_chaos:\n  node_name: n1\n  ingress: {}\n", "no impairment parameters"},
		{"param block not a map", "network_chaos:\n  node_name: n1\n  egress: [latency]\n", "must be a mapping"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Parse(tt.name, []byte(tt.doc))
			require.Error(t, err)
			assert.Nil(t, e)
			assert.ErrorIs(t, err, chaoserr.ErrConfiguration)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

// =============================================================================
// Load
// =============================================================================

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	require.NoError(t, os.WriteFile(a, []byte("network_chaos:\n  node_name: n1\n"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("network_chaos:\n  node_name: n2\n  execution: parallel\n"), 0o644))

	exps, err := LoadAll([]string{a, b})
	require.NoError(t, err)
	require.Len(t, exps, 2)
	assert.Equal(t, "a.yaml", exps[0].Name)
	assert.Equal(t, Parallel, exps[1].Mode)
}

func TestLoadAll_FailsOnFirstInvalid(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("network_chaos:\n  node_name: n1\n"), 0o644))

	_, err := LoadAll([]string{good, filepath.Join(dir, "missing.yaml")})
	assert.ErrorIs(t, err, chaoserr.ErrConfiguration)

	_, err = LoadAll(nil)
	assert.ErrorIs(t, err, chaoserr.ErrConfiguration)
}

func TestExperiment_Summary(t *testing.T) {
	e, err := Parse("s", []byte("network_chaos:\n  node_name: n1\n  duration: 30\n  egress:\n    loss: 1%\n"))
	require.NoError(t, err)
	assert.Equal(t, "serial egress loss=1% on [n1] for 30s", e.Summary())
}
