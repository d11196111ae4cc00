// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package kube

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/backend"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/poll"
)

const ns = "chaos"

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestBackend(objects ...runtime.Object) (*Backend, *fake.Clientset, *poll.FakeClock) {
	client := fake.NewSimpleClientset(objects...)
	clk := poll.NewFakeClock(epoch)
	b := New(client, nil, Config{Namespace: ns, Clock: clk})
	return b, client, clk
}

// markPods makes every created pod report phase.
func markPods(client *fake.Clientset, phase corev1.PodPhase) {
	client.PrependReactor("create", "pods", func(action k8stesting.Action) (bool, runtime.Object, error) {
		pod := action.(k8stesting.CreateAction).GetObject().(*corev1.Pod)
		pod.Status.Phase = phase
		return false, nil, nil
	})
}

// =============================================================================
// Jobs
// =============================================================================

func TestCreateJob_Manifest(t *testing.T) {
	ctx := context.Background()
	b, client, _ := newTestBackend()

	id, err := b.CreateJob(ctx, backend.JobSpec{
		Name:    "netchaos-latency-1a2b3c4d",
		Node:    "node-a",
		Command: []string{"/bin/sh", "-c", "true"},
		Labels:  map[string]string{"netchaos.io/run": "r1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "netchaos-latency-1a2b3c4d", id)

	job, err := client.BatchV1().Jobs(ns).Get(ctx, id, metav1.GetOptions{})
	require.NoError(t, err)

	require.NotNil(t, job.Spec.BackoffLimit)
	assert.Equal(t, int32(0), *job.Spec.BackoffLimit)
	assert.Equal(t, ManagedByValue, job.Labels[LabelManagedBy])
	assert.Equal(t, "r1", job.Spec.Template.Labels["netchaos.io/run"])

	pod := job.Spec.Template.Spec
	assert.Equal(t, "node-a", pod.NodeName)
	assert.True(t, pod.HostNetwork)
	assert.Equal(t, corev1.RestartPolicyNever, pod.RestartPolicy)
	assert.Equal(t, corev1.TolerationOpExists, pod.Tolerations[0].Operator)
	require.Len(t, pod.Containers, 1)
	c := pod.Containers[0]
	assert.Equal(t, DefaultImage, c.Image)
	assert.Equal(t, []string{"/bin/sh", "-c", "true"}, c.Command)
	assert.True(t, *c.SecurityContext.Privileged)
	assert.Contains(t, c.SecurityContext.Capabilities.Add, corev1.Capability("NET_ADMIN"))
}

func TestCreateJob_ImageOverrideAndConflict(t *testing.T) {
	ctx := context.Background()
	b, client, _ := newTestBackend()

	_, err := b.CreateJob(ctx, backend.JobSpec{Name: "j", Node: "n", Image: "custom:1"})
	require.NoError(t, err)
	job, err := client.BatchV1().Jobs(ns).Get(ctx, "j", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "custom:1", job.Spec.Template.Spec.Containers[0].Image)

	_, err = b.CreateJob(ctx, backend.JobSpec{Name: "j", Node: "n"})
	require.Error(t, err)
	assert.True(t, apierrors.IsAlreadyExists(errors.Unwrap(err)))
}

func TestGetJobStatus(t *testing.T) {
	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: "j", Namespace: ns},
		Status:     batchv1.JobStatus{Failed: 1},
	}
	b, _, _ := newTestBackend(job)

	st, err := b.GetJobStatus(context.Background(), "j")
	require.NoError(t, err)
	assert.True(t, st.Terminal())
	assert.True(t, st.FailedState())

	_, err = b.GetJobStatus(context.Background(), "missing")
	assert.Error(t, err)
}

func TestDeleteJob(t *testing.T) {
	ctx := context.Background()
	b, client, _ := newTestBackend(&batchv1.Job{ObjectMeta: metav1.ObjectMeta{Name: "j", Namespace: ns}})

	require.NoError(t, b.DeleteJob(ctx, "j"))
	_, err := client.BatchV1().Jobs(ns).Get(ctx, "j", metav1.GetOptions{})
	assert.True(t, apierrors.IsNotFound(err))

	assert.NoError(t, b.DeleteJob(ctx, "j"), "not found counts as deleted")

	var policy *metav1.DeletionPropagation
	for _, a := range client.Actions() {
		if d, ok := a.(k8stesting.DeleteAction); ok && a.GetResource().Resource == "jobs" {
			policy = d.GetDeleteOptions().PropagationPolicy
		}
	}
	require.NotNil(t, policy)
	assert.Equal(t, metav1.DeletePropagationForeground, *policy)
}

func TestDeleteJob_WaitsWhileTerminating(t *testing.T) {
	ctx := context.Background()
	job := &batchv1.Job{ObjectMeta: metav1.ObjectMeta{Name: "j", Namespace: ns}}
	b, client, clk := newTestBackend(job)

	// Foreground deletion keeps the job visible until its pods are gone.
	client.PrependReactor("delete", "jobs", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, nil
	})
	err := b.DeleteJob(ctx, "j")
	require.Error(t, err)
	assert.ErrorIs(t, err, poll.ErrTimeout)
	assert.Equal(t, epoch.Add(defaultDeleteTimeout), clk.Now())
}

func TestListPods(t *testing.T) {
	pods := []runtime.Object{
		&corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "j-abcde", Namespace: ns, Labels: map[string]string{"job-name": "j"}}},
		&corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "other", Namespace: ns}},
	}
	b, _, _ := newTestBackend(pods...)

	names, err := b.ListPods(context.Background(), "job-name=j")
	require.NoError(t, err)
	assert.Equal(t, []string{"j-abcde"}, names)
}

// =============================================================================
// Pods
// =============================================================================

func TestCreatePod_WaitsForRunning(t *testing.T) {
	b, client, _ := newTestBackend()
	markPods(client, corev1.PodRunning)

	err := b.CreatePod(context.Background(), backend.PodSpec{Name: "probe", Node: "n1", Command: []string{"sleep", "600"}}, time.Minute)
	require.NoError(t, err)

	pod, err := client.CoreV1().Pods(ns).Get(context.Background(), "probe", metav1.GetOptions{})
	require.NoError(t, err)
	assert.True(t, pod.Spec.HostNetwork)
	assert.Equal(t, "n1", pod.Spec.NodeName)
}

func TestCreatePod_TimesOut(t *testing.T) {
	b, client, clk := newTestBackend()
	markPods(client, corev1.PodPending)

	err := b.CreatePod(context.Background(), backend.PodSpec{Name: "probe", Node: "n1"}, 10*time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, poll.ErrTimeout)
	assert.Contains(t, err.Error(), `phase "Pending"`)
	assert.Equal(t, epoch.Add(10*time.Second), clk.Now())
}

func TestCreatePod_TerminatedPhaseFails(t *testing.T) {
	b, client, _ := newTestBackend()
	markPods(client, corev1.PodFailed)

	err := b.CreatePod(context.Background(), backend.PodSpec{Name: "probe", Node: "n1"}, time.Minute)
	require.Error(t, err)
	assert.NotErrorIs(t, err, poll.ErrTimeout)
	assert.Contains(t, err.Error(), "terminated")
}

func TestDeletePod(t *testing.T) {
	ctx := context.Background()
	b, client, _ := newTestBackend(&corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "probe", Namespace: ns}})

	require.NoError(t, b.DeletePod(ctx, "probe"))
	_, err := client.CoreV1().Pods(ns).Get(ctx, "probe", metav1.GetOptions{})
	assert.True(t, apierrors.IsNotFound(err))

	assert.NoError(t, b.DeletePod(ctx, "probe"))
}

func TestReadPod_ContainerStates(t *testing.T) {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "j-abcde", Namespace: ns},
		Spec:       corev1.PodSpec{NodeName: "n1"},
		Status: corev1.PodStatus{
			Phase: corev1.PodFailed,
			ContainerStatuses: []corev1.ContainerStatus{
				{Name: ContainerName, State: corev1.ContainerState{
					Terminated: &corev1.ContainerStateTerminated{ExitCode: 2, Reason: "Error", Message: "RTNETLINK answers: File exists"},
				}},
				{Name: "sidecar", State: corev1.ContainerState{Waiting: &corev1.ContainerStateWaiting{Reason: "ImagePullBackOff"}}},
			},
		},
	}
	b, _, _ := newTestBackend(pod)

	info, err := b.ReadPod(context.Background(), "j-abcde")
	require.NoError(t, err)
	assert.Equal(t, "Failed", info.Phase)
	assert.Equal(t, "n1", info.Node)
	require.Len(t, info.Containers, 2)
	assert.Equal(t, backend.ContainerState{
		Name: ContainerName, State: "terminated", Reason: "Error", Message: "RTNETLINK answers: File exists", ExitCode: 2,
	}, info.Containers[0])
	assert.Equal(t, "waiting", info.Containers[1].State)
	assert.Equal(t, "ImagePullBackOff", info.Containers[1].Reason)
}

func TestReadPodLog(t *testing.T) {
	b, _, _ := newTestBackend(&corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "p", Namespace: ns}})

	log, err := b.ReadPodLog(context.Background(), "p")
	require.NoError(t, err)
	assert.NotEmpty(t, log)
}

func TestExecInPod(t *testing.T) {
	b, _, _ := newTestBackend()

	_, err := b.ExecInPod(context.Background(), "p", []string{"ip", "link"})
	require.Error(t, err, "no REST config and no exec func")

	var gotNS, gotContainer string
	b.WithExecFunc(func(_ context.Context, namespace, pod, container string, argv []string) (string, string, error) {
		gotNS, gotContainer = namespace, container
		if argv[0] == "false" {
			return "", "permission denied\n", errors.New("exit code 1")
		}
		return "eth0 UP\n", "", nil
	})

	out, err := b.ExecInPod(context.Background(), "p", []string{"ip", "-br", "link", "show"})
	require.NoError(t, err)
	assert.Equal(t, "eth0 UP\n", out)
	assert.Equal(t, ns, gotNS)
	assert.Equal(t, ContainerName, gotContainer)

	_, err = b.ExecInPod(context.Background(), "p", []string{"false"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestListNodes_OnlyReady(t *testing.T) {
	node := func(name string, ready corev1.ConditionStatus) *corev1.Node {
		return &corev1.Node{
			ObjectMeta: metav1.ObjectMeta{Name: name, Labels: map[string]string{"role": "worker"}},
			Status: corev1.NodeStatus{Conditions: []corev1.NodeCondition{
				{Type: corev1.NodeReady, Status: ready},
			}},
		}
	}
	b, _, _ := newTestBackend(
		node("w1", corev1.ConditionTrue),
		node("w2", corev1.ConditionFalse),
		node("w3", corev1.ConditionTrue),
		&corev1.Node{ObjectMeta: metav1.ObjectMeta{Name: "bare", Labels: map[string]string{"role": "worker"}}},
	)

	names, err := b.ListNodes(context.Background(), "role=worker")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"w1", "w3"}, names)
}

func TestConfigDefaults(t *testing.T) {
	c := Config{}.withDefaults()
	assert.Equal(t, DefaultNamespace, c.Namespace)
	assert.Equal(t, DefaultImage, c.Image)
	assert.Equal(t, defaultPodPollInterval, c.PodPollInterval)
	assert.Equal(t, defaultDeleteTimeout, c.DeleteTimeout)
	assert.NotNil(t, c.Clock)
	assert.NotNil(t, c.Logger)
}
