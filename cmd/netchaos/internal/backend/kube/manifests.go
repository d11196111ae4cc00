// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package kube

import (
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func objectLabels(extra map[string]string) map[string]string {
	out := map[string]string{LabelManagedBy: ManagedByValue}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// hostPodSpec is the pod shape shared by jobs and probes: host network,
// privileged with NET_ADMIN, pinned to node, tolerating every taint.
func hostPodSpec(node, image string, command []string) corev1.PodSpec {
	privileged := true
	grace := TerminationGrace
	return corev1.PodSpec{
		NodeName:                      node,
		HostNetwork:                   true,
		RestartPolicy:                 corev1.RestartPolicyNever,
		TerminationGracePeriodSeconds: &grace,
		Tolerations:                   []corev1.Toleration{{Operator: corev1.TolerationOpExists}},
		Containers: []corev1.Container{{
			Name:            ContainerName,
			Image:           image,
			ImagePullPolicy: corev1.PullIfNotPresent,
			Command:         command,
			SecurityContext: &corev1.SecurityContext{
				Privileged: &privileged,
				Capabilities: &corev1.Capabilities{
					Add: []corev1.Capability{"NET_ADMIN"},
				},
			},
		}},
	}
}

func jobManifest(namespace, name, node, image string, command []string, extra map[string]string) *batchv1.Job {
	labels := objectLabels(extra)
	backoff := int32(0)
	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    labels,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoff,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec:       hostPodSpec(node, image, command),
			},
		},
	}
}

func podManifest(namespace, name, node, image string, command []string, extra map[string]string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    objectLabels(extra),
		},
		Spec: hostPodSpec(node, image, command),
	}
}
