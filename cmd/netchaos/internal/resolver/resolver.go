// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolver turns a scenario's target specification into a fixed set
// of nodes and network interfaces.
//
// Nodes come from explicit names or from a label selector bounded by an
// instance count. Interfaces are confirmed on each node by a short-lived
// probe pod on the host network: with no interfaces requested the probe
// reports the default-route interface, otherwise it lists every interface
// and the requested ones must all be present. The resulting TargetSet is
// immutable for the rest of the experiment.
package resolver

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/backend"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/chaoserr"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/metrics"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/scenario"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/telemetry"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// DefaultPrefix starts every probe pod name.
	DefaultPrefix = "netchaos"

	// DefaultProbeTimeout bounds the wait for a probe pod to be Running.
	DefaultProbeTimeout = 2 * time.Minute

	// DefaultConcurrency bounds the number of nodes probed at once.
	DefaultConcurrency = 4

	// LabelRole marks probe pods.
	LabelRole = "netchaos.io/role"
)

var (
	defaultRouteProbe = []string{"ip", "route", "show", "default"}
	linkProbe         = []string{"ip", "-br", "link", "show"}
)

// =============================================================================
// Types
// =============================================================================

// Request is the target specification of one experiment.
type Request struct {
	NodeNames      []string
	NodeInterfaces map[string][]string
	LabelSelector  string
	InstanceCount  int
	Interfaces     []string
}

// RequestFor extracts the target specification from e.
func RequestFor(e *scenario.Experiment) Request {
	return Request{
		NodeNames:      e.NodeNames,
		NodeInterfaces: e.NodeInterfaces,
		LabelSelector:  e.LabelSelector,
		InstanceCount:  e.InstanceCount,
		Interfaces:     e.Interfaces,
	}
}

func (r Request) interfacesFor(node string) []string {
	if ifaces, ok := r.NodeInterfaces[node]; ok {
		return ifaces
	}
	return r.Interfaces
}

// Target is one resolved node.
type Target struct {
	Node       string
	Interfaces []string
}

// TargetSet is the resolved target list in resolution order.
type TargetSet []Target

// Nodes returns the node names in order.
func (ts TargetSet) Nodes() []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Node
	}
	return out
}

// Map returns node -> interfaces.
func (ts TargetSet) Map() map[string][]string {
	out := make(map[string][]string, len(ts))
	for _, t := range ts {
		out[t.Node] = append([]string(nil), t.Interfaces...)
	}
	return out
}

// Config configures a Resolver.
type Config struct {
	// Prefix starts probe pod names; default DefaultPrefix.
	Prefix string

	// ProbeImage overrides the backend's default image.
	ProbeImage string

	// ProbeTimeout bounds the wait for each probe pod to start.
	ProbeTimeout time.Duration

	// Concurrency bounds parallel probes.
	Concurrency int

	// Labels are added to every probe pod.
	Labels map[string]string

	// Shuffle randomises label-selector matches before the instance count
	// is applied. Nil means math/rand/v2.
	Shuffle func([]string)

	Logger  *slog.Logger
	Metrics metrics.Recorder
}

// Resolver resolves targets through a backend.Prober.
//
// Thread Safety: Safe for concurrent use; each Resolve call is independent.
type Resolver struct {
	prober backend.Prober
	cfg    Config
	logger *slog.Logger
}

// New returns a Resolver.
func New(prober backend.Prober, cfg Config) *Resolver {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Shuffle == nil {
		cfg.Shuffle = func(s []string) {
			rand.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoOp()
	}
	return &Resolver{prober: prober, cfg: cfg, logger: cfg.Logger.With("component", "resolver")}
}

// ProbeName returns the probe pod name for node: "<prefix>-probe-<fnv32a hex>".
func ProbeName(prefix, node string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(node))
	return fmt.Sprintf("%s-probe-%08x", prefix, h.Sum32())
}

// =============================================================================
// Resolve
// =============================================================================

// Resolve selects the target nodes and confirms their interfaces.
//
// # Description
//
// Nodes are taken from req.NodeNames (deduplicated, order kept) or, when
// none are given, from a label selector: Ready matches are shuffled and the
// first InstanceCount are kept. Each node is then probed; probes run
// concurrently up to Config.Concurrency and the first failure cancels the
// rest. Every probe pod is deleted on every exit path.
//
// # Outputs
//
//   - TargetSet: one Target per node, in selection order
//   - error: *chaoserr.Error of kind Configuration (no node spec) or
//     Resolution (no matches, probe failure, missing interface)
func (r *Resolver) Resolve(ctx context.Context, req Request) (_ TargetSet, err error) {
	ctx, finish := telemetry.StartSpan(ctx, "netchaos.resolve",
		attribute.String("label_selector", req.LabelSelector),
		attribute.Int("explicit_nodes", len(req.NodeNames)))
	defer func() { finish(err) }()

	nodes, err := r.selectNodes(ctx, req)
	if err != nil {
		return nil, err
	}
	r.logger.Info("target nodes selected", "nodes", nodes)

	out := make(TargetSet, len(nodes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for i, node := range nodes {
		requested := req.interfacesFor(node)
		g.Go(func() error {
			ifaces, err := r.probeNode(gctx, node, requested)
			if err != nil {
				r.cfg.Metrics.ProbeCompleted("error")
				return err
			}
			r.cfg.Metrics.ProbeCompleted("ok")
			out[i] = Target{Node: node, Interfaces: ifaces}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Resolver) selectNodes(ctx context.Context, req Request) ([]string, error) {
	if len(req.NodeNames) > 0 {
		seen := make(map[string]bool, len(req.NodeNames))
		var out []string
		for _, n := range req.NodeNames {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
		return out, nil
	}
	if req.LabelSelector == "" {
		return nil, chaoserr.Configurationf("select nodes", "neither node names nor a label selector given")
	}

	matches, err := r.prober.ListNodes(ctx, req.LabelSelector)
	if err != nil {
		return nil, chaoserr.Resolution("list nodes", "", err)
	}
	want := req.InstanceCount
	if want <= 0 {
		want = 1
	}
	if len(matches) == 0 {
		return nil, chaoserr.Resolution("select nodes", "",
			fmt.Errorf("no ready nodes match %q", req.LabelSelector))
	}
	if len(matches) < want {
		return nil, chaoserr.Resolution("select nodes", "",
			fmt.Errorf("%d ready node(s) match %q, need %d", len(matches), req.LabelSelector, want))
	}

	picked := append([]string(nil), matches...)
	r.cfg.Shuffle(picked)
	return picked[:want], nil
}

// probeNode starts a probe pod on node, runs one probe and always removes
// the pod.
func (r *Resolver) probeNode(ctx context.Context, node string, requested []string) (_ []string, err error) {
	ctx, finish := telemetry.StartSpan(ctx, "netchaos.probe", attribute.String("node", node))
	defer func() { finish(err) }()

	name := ProbeName(r.cfg.Prefix, node)
	labels := map[string]string{LabelRole: "probe"}
	for k, v := range r.cfg.Labels {
		labels[k] = v
	}
	spec := backend.PodSpec{
		Name:    name,
		Node:    node,
		Image:   r.cfg.ProbeImage,
		Command: []string{"sleep", strconv.Itoa(int(2*r.cfg.ProbeTimeout/time.Second) + 60)},
		Labels:  labels,
	}

	// Registered before creation: a create that fails after the API
	// accepted the pod still leaves a pod behind.
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		if derr := r.prober.DeletePod(cleanupCtx, name); derr != nil {
			r.logger.Warn("probe pod cleanup failed", "pod", name, "node", node, "error", derr)
		}
	}()

	if err := r.prober.CreatePod(ctx, spec, r.cfg.ProbeTimeout); err != nil {
		return nil, chaoserr.Resolution("start probe pod", node, err)
	}

	if len(requested) == 0 {
		out, err := r.prober.ExecInPod(ctx, name, defaultRouteProbe)
		if err != nil {
			return nil, chaoserr.Resolution("detect default interface", node, err)
		}
		iface := parseDefaultRoute(out)
		if iface == "" {
			return nil, chaoserr.Resolution("detect default interface", node, fmt.Errorf("no default route"))
		}
		r.logger.Info("default interface detected", "node", node, "interface", iface)
		return []string{iface}, nil
	}

	out, err := r.prober.ExecInPod(ctx, name, linkProbe)
	if err != nil {
		return nil, chaoserr.Resolution("list interfaces", node, err)
	}
	present := parseLinks(out)
	have := make(map[string]bool, len(present))
	for _, p := range present {
		have[p] = true
	}
	var missing []string
	for _, want := range requested {
		if !have[want] {
			missing = append(missing, want)
		}
	}
	if len(missing) > 0 {
		return nil, chaoserr.Resolution("verify interfaces", node,
			fmt.Errorf("interface(s) %v not found, node has %v", missing, present))
	}
	r.logger.Info("interfaces verified", "node", node, "interfaces", requested)
	return append([]string(nil), requested...), nil
}
