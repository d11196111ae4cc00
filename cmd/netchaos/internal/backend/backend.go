// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backend defines the cluster capabilities the chaos engine needs.
//
// The engine never talks to a cluster API directly. The resolver needs the
// Prober subset (probe pods and node listing); the orchestrator needs the
// JobRunner subset (jobs and diagnostics). The kube subpackage implements
// Backend with client-go; Fake implements it in memory for tests and dry runs.
package backend

import (
	"context"
	"time"
)

// =============================================================================
// Interfaces
// =============================================================================

// JobRunner creates, tracks and removes execution units and reads their
// diagnostics.
type JobRunner interface {
	// CreateJob submits a job pinned to spec.Node and returns its identifier.
	CreateJob(ctx context.Context, spec JobSpec) (string, error)

	// GetJobStatus returns the job's pod counters.
	GetJobStatus(ctx context.Context, id string) (JobStatus, error)

	// DeleteJob removes the job and its pods. Deleting a job that no longer
	// exists succeeds.
	DeleteJob(ctx context.Context, id string) error

	// ListPods returns pod names matching a label selector.
	ListPods(ctx context.Context, selector string) ([]string, error)

	// ReadPod returns the pod's phase and container states.
	ReadPod(ctx context.Context, pod string) (PodInfo, error)

	// ReadPodLog returns the pod's log.
	ReadPodLog(ctx context.Context, pod string) ([]byte, error)
}

// Prober runs short-lived diagnostic pods on nodes.
type Prober interface {
	// CreatePod creates the pod and blocks until it is Running or timeout
	// elapses.
	CreatePod(ctx context.Context, spec PodSpec, timeout time.Duration) error

	// ExecInPod runs argv in the pod's first container and returns stdout.
	ExecInPod(ctx context.Context, pod string, argv []string) (string, error)

	// DeletePod removes the pod and waits until it is gone. Deleting a pod
	// that no longer exists succeeds.
	DeletePod(ctx context.Context, pod string) error

	// ListNodes returns the names of Ready nodes matching a label selector.
	ListNodes(ctx context.Context, selector string) ([]string, error)
}

// Backend is the full capability set.
type Backend interface {
	JobRunner
	Prober
}

// =============================================================================
// Types
// =============================================================================

// JobSpec describes one execution unit.
type JobSpec struct {
	// Name is the job name and the identifier returned by CreateJob.
	Name string

	// Node pins the job's pod to this node.
	Node string

	// Image overrides the backend's default image when set.
	Image string

	// Command is the container command.
	Command []string

	// Labels are added to the job and its pod template.
	Labels map[string]string
}

// JobStatus mirrors the job's pod counters.
type JobStatus struct {
	Active    int32
	Succeeded int32
	Failed    int32
}

// Terminal reports whether the job finished. Jobs run with no retries, so a
// single succeeded or failed pod is final.
func (s JobStatus) Terminal() bool {
	return s.Succeeded > 0 || s.Failed > 0
}

// FailedState reports whether the job finished unsuccessfully.
func (s JobStatus) FailedState() bool {
	return s.Failed > 0
}

// PodSpec describes a probe pod.
type PodSpec struct {
	Name    string
	Node    string
	Image   string
	Command []string
	Labels  map[string]string
}

// ContainerState summarises one container for diagnostics.
type ContainerState struct {
	Name     string
	State    string // waiting, running or terminated
	Reason   string
	Message  string
	ExitCode int32
}

// PodInfo is a diagnostic view of a pod.
type PodInfo struct {
	Name       string
	Node       string
	Phase      string
	Containers []ContainerState
}
