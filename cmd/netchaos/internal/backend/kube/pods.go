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
	"fmt"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/backend"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/poll"
)

// CreatePod implements backend.Prober. It returns once the pod is Running,
// and fails if the pod terminates first or timeout elapses. The pod is left
// in place on failure; the caller owns its deletion.
func (b *Backend) CreatePod(ctx context.Context, spec backend.PodSpec, timeout time.Duration) error {
	pods := b.client.CoreV1().Pods(b.cfg.Namespace)
	pod := podManifest(b.cfg.Namespace, spec.Name, spec.Node, b.image(spec.Image), spec.Command, spec.Labels)
	if _, err := pods.Create(ctx, pod, metav1.CreateOptions{}); err != nil {
		return fmt.Errorf("kube: create pod %s: %w", spec.Name, err)
	}

	var phase corev1.PodPhase
	err := poll.Until(ctx, poll.Options{Interval: b.cfg.PodPollInterval, Timeout: timeout, Clock: b.cfg.Clock},
		func(ctx context.Context) (bool, error) {
			p, err := pods.Get(ctx, spec.Name, metav1.GetOptions{})
			if err != nil {
				b.logger.Debug("probe pod not readable yet", "pod", spec.Name, "error", err)
				return false, nil
			}
			phase = p.Status.Phase
			switch phase {
			case corev1.PodRunning:
				return true, nil
			case corev1.PodSucceeded, corev1.PodFailed:
				return false, fmt.Errorf("kube: pod %s terminated in phase %s", spec.Name, phase)
			}
			return false, nil
		})
	if errors.Is(err, poll.ErrTimeout) {
		return fmt.Errorf("kube: pod %s not running after %v (phase %q): %w", spec.Name, timeout, phase, err)
	}
	return err
}

// DeletePod implements backend.Prober.
func (b *Backend) DeletePod(ctx context.Context, pod string) error {
	pods := b.client.CoreV1().Pods(b.cfg.Namespace)
	grace := int64(0)
	if err := ignoreNotFound(pods.Delete(ctx, pod, metav1.DeleteOptions{GracePeriodSeconds: &grace})); err != nil {
		return fmt.Errorf("kube: delete pod %s: %w", pod, err)
	}

	err := poll.Until(ctx, poll.Options{Interval: b.cfg.PodPollInterval, Timeout: b.cfg.DeleteTimeout, Clock: b.cfg.Clock},
		func(ctx context.Context) (bool, error) {
			_, err := pods.Get(ctx, pod, metav1.GetOptions{})
			if apierrors.IsNotFound(err) {
				return true, nil
			}
			return false, nil
		})
	if err != nil {
		return fmt.Errorf("kube: wait for pod %s deletion: %w", pod, err)
	}
	b.logger.Debug("pod deleted", "pod", pod)
	return nil
}

// ReadPod implements backend.JobRunner.
func (b *Backend) ReadPod(ctx context.Context, pod string) (backend.PodInfo, error) {
	p, err := b.client.CoreV1().Pods(b.cfg.Namespace).Get(ctx, pod, metav1.GetOptions{})
	if err != nil {
		return backend.PodInfo{}, fmt.Errorf("kube: read pod %s: %w", pod, err)
	}
	info := backend.PodInfo{
		Name:  p.Name,
		Node:  p.Spec.NodeName,
		Phase: string(p.Status.Phase),
	}
	for _, cs := range p.Status.ContainerStatuses {
		info.Containers = append(info.Containers, containerState(cs))
	}
	return info, nil
}

func containerState(cs corev1.ContainerStatus) backend.ContainerState {
	out := backend.ContainerState{Name: cs.Name}
	switch {
	case cs.State.Terminated != nil:
		out.State = "terminated"
		out.Reason = cs.State.Terminated.Reason
		out.Message = cs.State.Terminated.Message
		out.ExitCode = cs.State.Terminated.ExitCode
	case cs.State.Waiting != nil:
		out.State = "waiting"
		out.Reason = cs.State.Waiting.Reason
		out.Message = cs.State.Waiting.Message
	case cs.State.Running != nil:
		out.State = "running"
	}
	return out
}

// ReadPodLog implements backend.JobRunner.
func (b *Backend) ReadPodLog(ctx context.Context, pod string) ([]byte, error) {
	raw, err := b.client.CoreV1().Pods(b.cfg.Namespace).
		GetLogs(pod, &corev1.PodLogOptions{Container: ContainerName}).
		DoRaw(ctx)
	if err != nil {
		return nil, fmt.Errorf("kube: read log of pod %s: %w", pod, err)
	}
	return raw, nil
}

// ExecInPod implements backend.Prober.
func (b *Backend) ExecInPod(ctx context.Context, pod string, argv []string) (string, error) {
	stdout, stderr, err := b.exec(ctx, b.cfg.Namespace, pod, ContainerName, argv)
	if err != nil {
		if s := strings.TrimSpace(stderr); s != "" {
			return stdout, fmt.Errorf("kube: exec %q in pod %s: %w: %s", strings.Join(argv, " "), pod, err, s)
		}
		return stdout, fmt.Errorf("kube: exec %q in pod %s: %w", strings.Join(argv, " "), pod, err)
	}
	return stdout, nil
}

// ListNodes implements backend.Prober. Only nodes whose Ready condition is
// True are returned.
func (b *Backend) ListNodes(ctx context.Context, selector string) ([]string, error) {
	list, err := b.client.CoreV1().Nodes().List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return nil, fmt.Errorf("kube: list nodes %q: %w", selector, err)
	}
	var out []string
	for _, n := range list.Items {
		if nodeReady(&n) {
			out = append(out, n.Name)
		}
	}
	return out, nil
}

func nodeReady(n *corev1.Node) bool {
	for _, c := range n.Status.Conditions {
		if c.Type == corev1.NodeReady {
			return c.Status == corev1.ConditionTrue
		}
	}
	return false
}
