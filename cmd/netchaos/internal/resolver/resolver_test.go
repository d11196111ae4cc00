// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resolver

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/backend"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/chaoserr"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/metrics"
)

func worker(name string, ifaces ...string) backend.FakeNode {
	return backend.FakeNode{
		Name:         name,
		Labels:       map[string]string{"role": "worker"},
		Interfaces:   append([]string{"lo"}, ifaces...),
		DefaultRoute: ifaces[0],
	}
}

func reverse(s []string) { slices.Reverse(s) }

// =============================================================================
// Node selection
// =============================================================================

func TestResolve_ExplicitNodesDefaultInterface(t *testing.T) {
	fake := backend.NewFake(worker("node-a", "eth0"), worker("node-b", "ens5"))
	m := metrics.NewNoOp()
	r := New(fake, Config{Metrics: m})

	ts, err := r.Resolve(context.Background(), Request{NodeNames: []string{"node-a", "node-b", "node-a"}})
	require.NoError(t, err)

	assert.Equal(t, TargetSet{
		{Node: "node-a", Interfaces: []string{"eth0"}},
		{Node: "node-b", Interfaces: []string{"ens5"}},
	}, ts)
	assert.Empty(t, fake.LivePods(), "every probe pod removed")
	assert.Len(t, fake.CallsFor(backend.OpDeletePod), 2)
	assert.Equal(t, int64(2), m.Probes())
}

func TestResolve_LabelSelectorHonoursInstanceCount(t *testing.T) {
	fake := backend.NewFake(worker("w1", "eth0"), worker("w2", "eth0"), worker("w3", "eth0"),
		backend.FakeNode{Name: "db", Labels: map[string]string{"role": "db"}, DefaultRoute: "eth0"})
	r := New(fake, Config{Shuffle: reverse})

	ts, err := r.Resolve(context.Background(), Request{LabelSelector: "role=worker", InstanceCount: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"w3", "w2"}, ts.Nodes())
}

func TestResolve_SelectionErrors(t *testing.T) {
	fake := backend.NewFake(worker("w1", "eth0"))

	tests := []struct {
		name string
		req  Request
		kind error
	}{
		{"no spec", Request{}, chaoserr.ErrConfiguration},
		{"no match", Request{LabelSelector: "role=db", InstanceCount: 1}, chaoserr.ErrResolution},
		{"too few matches", Request{LabelSelector: "role=worker", InstanceCount: 2}, chaoserr.ErrResolution},
		{"bad selector", Request{LabelSelector: "a in (", InstanceCount: 1}, chaoserr.ErrResolution},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(fake, Config{}).Resolve(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
	assert.Empty(t, fake.CallsFor(backend.OpCreatePod), "nothing probed when selection fails")
}

// =============================================================================
// Interface verification
// =============================================================================

func TestResolve_RequestedInterfacesVerified(t *testing.T) {
	fake := backend.NewFake(worker("n1", "eth0@if9", "eth1"))
	r := New(fake, Config{})

	ts, err := r.Resolve(context.Background(), Request{NodeNames: []string{"n1"}, Interfaces: []string{"eth1", "eth0"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"eth1", "eth0"}, ts.Map()["n1"])
}

func TestResolve_PerNodeOverride(t *testing.T) {
	fake := backend.NewFake(worker("n1", "eth0"), worker("n2", "ens5"))
	r := New(fake, Config{})

	ts, err := r.Resolve(context.Background(), Request{
		NodeNames:      []string{"n1", "n2"},
		Interfaces:     []string{"eth0"},
		NodeInterfaces: map[string][]string{"n2": {"ens5"}},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"n1": {"eth0"}, "n2": {"ens5"}}, ts.Map())
}

func TestResolve_MissingInterfaceIsResolutionError(t *testing.T) {
	fake := backend.NewFake(worker("n1", "eth0"))
	r := New(fake, Config{})

	_, err := r.Resolve(context.Background(), Request{NodeNames: []string{"n1"}, Interfaces: []string{"eth7"}})
	require.ErrorIs(t, err, chaoserr.ErrResolution)

	var cerr *chaoserr.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "n1", cerr.Node)
	assert.Contains(t, err.Error(), "eth7")
	assert.Empty(t, fake.LivePods())
	assert.Empty(t, fake.CallsFor(backend.OpCreateJob))
}

func TestResolve_NoDefaultRoute(t *testing.T) {
	fake := backend.NewFake(backend.FakeNode{Name: "n1", Interfaces: []string{"lo"}})
	_, err := New(fake, Config{}).Resolve(context.Background(), Request{NodeNames: []string{"n1"}})
	assert.ErrorIs(t, err, chaoserr.ErrResolution)
	assert.Contains(t, err.Error(), "no default route")
}

// =============================================================================
// Probe pod lifecycle
// =============================================================================

func TestResolve_ProbePodDeletedWhenCreateFails(t *testing.T) {
	fake := backend.NewFake(worker("n1", "eth0")).
		WithCreatePodFunc(func(backend.PodSpec) error { return errors.New("pod not running after 2m") })

	_, err := New(fake, Config{}).Resolve(context.Background(), Request{NodeNames: []string{"n1"}})
	require.ErrorIs(t, err, chaoserr.ErrResolution)
	assert.Equal(t, []string{ProbeName(DefaultPrefix, "n1")}, fake.CallsFor(backend.OpDeletePod))
}

func TestResolve_ProbePodDeletedWhenExecFails(t *testing.T) {
	fake := backend.NewFake(worker("n1", "eth0"), worker("n2", "eth0")).
		WithExecFunc(func(_, node string, _ []string) (string, error) {
			if node == "n2" {
				return "", errors.New("exec refused")
			}
			return "default via 1.1.1.1 dev eth0\n", nil
		})

	_, err := New(fake, Config{Concurrency: 1}).Resolve(context.Background(), Request{NodeNames: []string{"n1", "n2"}})
	require.ErrorIs(t, err, chaoserr.ErrResolution)
	assert.Empty(t, fake.LivePods())
	assert.Equal(t, len(fake.CallsFor(backend.OpCreatePod)), len(fake.CallsFor(backend.OpDeletePod)))
}

func TestResolve_ProbePodSpec(t *testing.T) {
	var got backend.PodSpec
	fake := backend.NewFake(worker("n1", "eth0")).
		WithCreatePodFunc(func(s backend.PodSpec) error { got = s; return nil })

	_, err := New(fake, Config{Prefix: "chaos", ProbeImage: "img:1", Labels: map[string]string{"run": "r"}}).
		Resolve(context.Background(), Request{NodeNames: []string{"n1"}})
	require.NoError(t, err)

	assert.Equal(t, ProbeName("chaos", "n1"), got.Name)
	assert.Equal(t, "n1", got.Node)
	assert.Equal(t, "img:1", got.Image)
	assert.Equal(t, "probe", got.Labels[LabelRole])
	assert.Equal(t, "r", got.Labels["run"])
	assert.Equal(t, "sleep", got.Command[0])
}

func TestProbeName_StablePerNode(t *testing.T) {
	assert.Equal(t, ProbeName("p", "node-a"), ProbeName("p", "node-a"))
	assert.NotEqual(t, ProbeName("p", "node-a"), ProbeName("p", "node-b"))
	assert.Regexp(t, `^p-probe-[0-9a-f]{8}$`, ProbeName("p", "node-a"))
}

// =============================================================================
// Parsers
// =============================================================================

func TestParseDefaultRoute(t *testing.T) {
	assert.Equal(t, "eth0", parseDefaultRoute("default via 10.0.0.1 dev eth0 proto dhcp metric 100\n"))
	assert.Equal(t, "ens5", parseDefaultRoute("10.0.0.0/24 dev eth9\ndefault dev ens5 scope link\n"))
	assert.Empty(t, parseDefaultRoute(""))
	assert.Empty(t, parseDefaultRoute("default via 10.0.0.1\n"))
}

func TestParseLinks(t *testing.T) {
	out := "lo               UNKNOWN        00:00:00:00:00:00 <LOOPBACK,UP,LOWER_UP>\n" +
		"eth0@if12        UP             02:42:ac:11:00:02 <BROADCAST,MULTICAST,UP,LOWER_UP>\n" +
		"\n" +
		"ens5             DOWN           02:42:ac:11:00:03 <BROADCAST,MULTICAST>\n"
	assert.Equal(t, []string{"lo", "eth0", "ens5"}, parseLinks(out))
}
