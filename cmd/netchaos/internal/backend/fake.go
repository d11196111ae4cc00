// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package backend

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/labels"
)

// Call records one invocation on Fake.
type Call struct {
	Op   string
	Name string
}

// Fake operations recorded in Calls.
const (
	OpCreateJob  = "CreateJob"
	OpGetStatus  = "GetJobStatus"
	OpDeleteJob  = "DeleteJob"
	OpListPods   = "ListPods"
	OpReadPod    = "ReadPod"
	OpReadPodLog = "ReadPodLog"
	OpCreatePod  = "CreatePod"
	OpExecInPod  = "ExecInPod"
	OpDeletePod  = "DeletePod"
	OpListNodes  = "ListNodes"
)

// FakeNode is a node known to Fake.
type FakeNode struct {
	Name   string
	Labels map[string]string

	// Interfaces are reported by `ip -br link show`, in order. Names may
	// carry an @peer suffix.
	Interfaces []string

	// DefaultRoute is the interface on the default route; empty means no
	// default route.
	DefaultRoute string
}

// Fake is an in-memory Backend.
//
// Jobs succeed on their first status read unless WithStatusFunc says
// otherwise. Every call is recorded; tests assert on Calls, Deletes and the
// live job and pod sets.
//
// Thread Safety:
//
//	Fake is safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	nodes map[string]FakeNode
	jobs  map[string]JobSpec
	pods  map[string]PodSpec
	polls map[string]int
	calls []Call

	statusFunc    func(id string, poll int) (JobStatus, error)
	createJobFunc func(spec JobSpec) error
	createPodFunc func(spec PodSpec) error
	execFunc      func(pod, node string, argv []string) (string, error)
	deleteJobErr  error
	onStatus      func(id string)
}

// NewFake returns a Fake with the given nodes.
func NewFake(nodes ...FakeNode) *Fake {
	f := &Fake{
		nodes: make(map[string]FakeNode, len(nodes)),
		jobs:  make(map[string]JobSpec),
		pods:  make(map[string]PodSpec),
		polls: make(map[string]int),
	}
	for _, n := range nodes {
		f.nodes[n.Name] = n
	}
	return f
}

// WithStatusFunc sets the job status source. poll counts status reads of
// id starting at 1.
func (f *Fake) WithStatusFunc(fn func(id string, poll int) (JobStatus, error)) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusFunc = fn
	return f
}

// WithCreateJobFunc lets a test reject job creation.
func (f *Fake) WithCreateJobFunc(fn func(spec JobSpec) error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createJobFunc = fn
	return f
}

// WithCreatePodFunc lets a test reject probe pod creation.
func (f *Fake) WithCreatePodFunc(fn func(spec PodSpec) error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createPodFunc = fn
	return f
}

// WithExecFunc replaces the default `ip` emulation.
func (f *Fake) WithExecFunc(fn func(pod, node string, argv []string) (string, error)) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execFunc = fn
	return f
}

// WithDeleteJobError makes every DeleteJob fail after recording the call.
func (f *Fake) WithDeleteJobError(err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteJobErr = err
	return f
}

// WithStatusHook runs fn after every status read, outside the lock. Tests
// use it to advance a fake clock.
func (f *Fake) WithStatusHook(fn func(id string)) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onStatus = fn
	return f
}

// =============================================================================
// JobRunner
// =============================================================================

// CreateJob implements JobRunner.
func (f *Fake) CreateJob(_ context.Context, spec JobSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(OpCreateJob, spec.Name)

	if f.createJobFunc != nil {
		if err := f.createJobFunc(spec); err != nil {
			return "", err
		}
	}
	if _, ok := f.jobs[spec.Name]; ok {
		return "", fmt.Errorf("job %q already exists", spec.Name)
	}
	f.jobs[spec.Name] = spec
	return spec.Name, nil
}

// GetJobStatus implements JobRunner.
func (f *Fake) GetJobStatus(_ context.Context, id string) (JobStatus, error) {
	f.mu.Lock()
	f.record(OpGetStatus, id)
	_, exists := f.jobs[id]
	f.polls[id]++
	poll := f.polls[id]
	fn, hook := f.statusFunc, f.onStatus
	f.mu.Unlock()

	if hook != nil {
		defer hook(id)
	}
	if !exists {
		return JobStatus{}, fmt.Errorf("job %q not found", id)
	}
	if fn == nil {
		return JobStatus{Succeeded: 1}, nil
	}
	return fn(id, poll)
}

// DeleteJob implements JobRunner.
func (f *Fake) DeleteJob(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(OpDeleteJob, id)
	if f.deleteJobErr != nil {
		return f.deleteJobErr
	}
	delete(f.jobs, id)
	return nil
}

// ListPods implements JobRunner. Each job owns one pod named "<job>-pod".
func (f *Fake) ListPods(_ context.Context, selector string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(OpListPods, selector)

	sel, err := labels.Parse(selector)
	if err != nil {
		return nil, err
	}
	var out []string
	for name, spec := range f.jobs {
		set := labels.Set{"job-name": name}
		for k, v := range spec.Labels {
			set[k] = v
		}
		if sel.Matches(set) {
			out = append(out, name+"-pod")
		}
	}
	for name, spec := range f.pods {
		if sel.Matches(labels.Set(spec.Labels)) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// ReadPod implements JobRunner.
func (f *Fake) ReadPod(_ context.Context, pod string) (PodInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(OpReadPod, pod)

	job := strings.TrimSuffix(pod, "-pod")
	if spec, ok := f.jobs[job]; ok {
		return PodInfo{
			Name:  pod,
			Node:  spec.Node,
			Phase: "Failed",
			Containers: []ContainerState{{
				Name: "netchaos", State: "terminated", Reason: "Error", ExitCode: 1,
			}},
		}, nil
	}
	if spec, ok := f.pods[pod]; ok {
		return PodInfo{Name: pod, Node: spec.Node, Phase: "Running"}, nil
	}
	return PodInfo{}, fmt.Errorf("pod %q not found", pod)
}

// ReadPodLog implements JobRunner.
func (f *Fake) ReadPodLog(_ context.Context, pod string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(OpReadPodLog, pod)
	return []byte("log of " + pod), nil
}

// =============================================================================
// Prober
// =============================================================================

// CreatePod implements Prober. The pod is Running immediately.
func (f *Fake) CreatePod(_ context.Context, spec PodSpec, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(OpCreatePod, spec.Name)

	if f.createPodFunc != nil {
		if err := f.createPodFunc(spec); err != nil {
			return err
		}
	}
	if _, ok := f.nodes[spec.Node]; !ok {
		return fmt.Errorf("node %q not found", spec.Node)
	}
	if _, ok := f.pods[spec.Name]; ok {
		return fmt.Errorf("pod %q already exists", spec.Name)
	}
	f.pods[spec.Name] = spec
	return nil
}

// ExecInPod implements Prober by emulating `ip route show default` and
// `ip -br link show` against the pod's node.
func (f *Fake) ExecInPod(_ context.Context, pod string, argv []string) (string, error) {
	f.mu.Lock()
	f.record(OpExecInPod, pod)
	spec, ok := f.pods[pod]
	node := f.nodes[spec.Node]
	fn := f.execFunc
	f.mu.Unlock()

	if !ok {
		return "", fmt.Errorf("pod %q not found", pod)
	}
	if fn != nil {
		return fn(pod, spec.Node, argv)
	}

	cmd := strings.Join(argv, " ")
	var b strings.Builder
	switch {
	case strings.Contains(cmd, "route"):
		if node.DefaultRoute != "" {
			fmt.Fprintf(&b, "default via 10.0.0.1 dev %s proto dhcp src 10.0.0.5 metric 100\n", node.DefaultRoute)
		}
	case strings.Contains(cmd, "link"):
		for _, iface := range node.Interfaces {
			fmt.Fprintf(&b, "%-16s UP             02:42:ac:11:00:02 <BROADCAST,MULTICAST,UP,LOWER_UP>\n", iface)
		}
	default:
		return "", fmt.Errorf("fake: unsupported command %q", cmd)
	}
	return b.String(), nil
}

// DeletePod implements Prober.
func (f *Fake) DeletePod(_ context.Context, pod string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(OpDeletePod, pod)
	delete(f.pods, pod)
	return nil
}

// ListNodes implements Prober.
func (f *Fake) ListNodes(_ context.Context, selector string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(OpListNodes, selector)

	sel, err := labels.Parse(selector)
	if err != nil {
		return nil, err
	}
	var out []string
	for name, n := range f.nodes {
		if sel.Matches(labels.Set(n.Labels)) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// =============================================================================
// Inspection
// =============================================================================

// Calls returns every recorded call in order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsFor returns the names passed to op, in order.
func (f *Fake) CallsFor(op string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if c.Op == op {
			out = append(out, c.Name)
		}
	}
	return out
}

// Deletes returns how many times DeleteJob was called per job.
func (f *Fake) Deletes() map[string]int {
	out := make(map[string]int)
	for _, name := range f.CallsFor(OpDeleteJob) {
		out[name]++
	}
	return out
}

// Job returns the spec of a live job.
func (f *Fake) Job(id string) (JobSpec, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	spec, ok := f.jobs[id]
	return spec, ok
}

// LiveJobs returns the names of jobs not yet deleted.
func (f *Fake) LiveJobs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.jobs))
	for name := range f.jobs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// LivePods returns the names of pods not yet deleted.
func (f *Fake) LivePods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.pods))
	for name := range f.pods {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (f *Fake) record(op, name string) {
	f.calls = append(f.calls, Call{Op: op, Name: name})
}

var _ Backend = (*Fake)(nil)
