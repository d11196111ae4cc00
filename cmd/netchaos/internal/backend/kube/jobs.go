// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package kube

import (
	"context"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/backend"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/poll"
)

// CreateJob implements backend.JobRunner.
func (b *Backend) CreateJob(ctx context.Context, spec backend.JobSpec) (string, error) {
	job := jobManifest(b.cfg.Namespace, spec.Name, spec.Node, b.image(spec.Image), spec.Command, spec.Labels)
	created, err := b.client.BatchV1().Jobs(b.cfg.Namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return "", fmt.Errorf("kube: create job %s: %w", spec.Name, err)
	}
	b.logger.Debug("job created", "job", created.Name, "node", spec.Node)
	return created.Name, nil
}

// GetJobStatus implements backend.JobRunner.
func (b *Backend) GetJobStatus(ctx context.Context, id string) (backend.JobStatus, error) {
	job, err := b.client.BatchV1().Jobs(b.cfg.Namespace).Get(ctx, id, metav1.GetOptions{})
	if err != nil {
		return backend.JobStatus{}, fmt.Errorf("kube: get job %s: %w", id, err)
	}
	return backend.JobStatus{
		Active:    job.Status.Active,
		Succeeded: job.Status.Succeeded,
		Failed:    job.Status.Failed,
	}, nil
}

// DeleteJob implements backend.JobRunner. Pods are removed in the
// foreground with their own grace period so a still-running script can
// revert its impairment on SIGTERM.
//
// DeleteJob returns once the job object is gone, bounded by
// Config.DeleteTimeout. Unit names repeat across runs, so a job still
// terminating would make the next run's create fail with AlreadyExists.
func (b *Backend) DeleteJob(ctx context.Context, id string) error {
	jobs := b.client.BatchV1().Jobs(b.cfg.Namespace)
	propagation := metav1.DeletePropagationForeground
	err := jobs.Delete(ctx, id, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
	if err = ignoreNotFound(err); err != nil {
		return fmt.Errorf("kube: delete job %s: %w", id, err)
	}

	err = poll.Until(ctx, poll.Options{Interval: b.cfg.PodPollInterval, Timeout: b.cfg.DeleteTimeout, Clock: b.cfg.Clock},
		func(ctx context.Context) (bool, error) {
			_, err := jobs.Get(ctx, id, metav1.GetOptions{})
			return apierrors.IsNotFound(err), nil
		})
	if err != nil {
		return fmt.Errorf("kube: wait for job %s deletion: %w", id, err)
	}
	b.logger.Debug("job deleted", "job", id)
	return nil
}

// ListPods implements backend.JobRunner.
func (b *Backend) ListPods(ctx context.Context, selector string) ([]string, error) {
	list, err := b.client.CoreV1().Pods(b.cfg.Namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return nil, fmt.Errorf("kube: list pods %q: %w", selector, err)
	}
	out := make([]string, 0, len(list.Items))
	for _, p := range list.Items {
		out = append(out, p.Name)
	}
	return out, nil
}
