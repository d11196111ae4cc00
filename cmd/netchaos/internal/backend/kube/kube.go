// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package kube implements backend.Backend on Kubernetes with client-go.
//
// Execution units are batch/v1 Jobs and probes are bare Pods. Both run on the
// host network with a privileged container pinned to the target node, so tc
// and ip operate on the node's own interfaces.
package kube

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/backend"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/poll"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// DefaultImage carries tc, ip and a POSIX shell.
	DefaultImage = "docker.io/nicolaka/netshoot:v0.13"

	// DefaultNamespace is used when Config.Namespace is empty.
	DefaultNamespace = "default"

	// ContainerName is the single container in every job and probe pod.
	ContainerName = "netchaos"

	// LabelManagedBy marks every object this backend creates.
	LabelManagedBy = "app.kubernetes.io/managed-by"

	// ManagedByValue is the LabelManagedBy value.
	ManagedByValue = "netchaos"

	// TerminationGrace gives a deleted job's script time to run its revert
	// trap before the kubelet kills it.
	TerminationGrace int64 = 30

	defaultPodPollInterval = time.Second
	defaultDeleteTimeout   = 2 * time.Minute
)

// =============================================================================
// Types
// =============================================================================

// Config configures a Backend.
type Config struct {
	// Namespace holds every job and probe pod.
	Namespace string

	// Image is the default container image.
	Image string

	// PodPollInterval is how often CreatePod, DeletePod and DeleteJob
	// re-read the object they wait on.
	PodPollInterval time.Duration

	// DeleteTimeout bounds the wait for a deleted pod or job to disappear.
	DeleteTimeout time.Duration

	// Clock drives the pod waits. Nil means the real clock.
	Clock poll.Clock

	// Logger receives debug output. Nil means slog.Default().
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	if c.Image == "" {
		c.Image = DefaultImage
	}
	c.PodPollInterval = poll.EnforceDefault(c.PodPollInterval, defaultPodPollInterval)
	c.DeleteTimeout = poll.EnforceDefault(c.DeleteTimeout, defaultDeleteTimeout)
	if c.Clock == nil {
		c.Clock = poll.RealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// ExecFunc runs argv in a pod's container and returns stdout and stderr.
type ExecFunc func(ctx context.Context, namespace, pod, container string, argv []string) (stdout, stderr string, err error)

// Backend is a client-go backed backend.Backend.
//
// Thread Safety: Safe for concurrent use.
type Backend struct {
	client kubernetes.Interface
	cfg    Config
	exec   ExecFunc
	logger *slog.Logger
}

// New returns a Backend over client. restConfig is needed for pod exec; with
// a nil restConfig ExecInPod fails unless WithExecFunc is used.
func New(client kubernetes.Interface, restConfig *rest.Config, cfg Config) *Backend {
	cfg = cfg.withDefaults()
	b := &Backend{
		client: client,
		cfg:    cfg,
		logger: cfg.Logger.With("component", "kube"),
	}
	if restConfig != nil {
		b.exec = spdyExec(client, restConfig)
	} else {
		b.exec = func(context.Context, string, string, string, []string) (string, string, error) {
			return "", "", errors.New("kube: pod exec requires a REST config")
		}
	}
	return b
}

// NewFromKubeconfig builds a Backend from a kubeconfig path. An empty path
// uses the standard loading rules (KUBECONFIG, ~/.kube/config, in-cluster).
func NewFromKubeconfig(path string, cfg Config) (*Backend, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if path != "" {
		rules.ExplicitPath = path
	}
	restConfig, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{}).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("kube: load kubeconfig: %w", err)
	}
	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("kube: create client: %w", err)
	}
	return New(client, restConfig, cfg), nil
}

// WithExecFunc replaces the SPDY exec transport.
func (b *Backend) WithExecFunc(fn ExecFunc) *Backend {
	b.exec = fn
	return b
}

// Namespace returns the namespace objects are created in.
func (b *Backend) Namespace() string {
	return b.cfg.Namespace
}

func ignoreNotFound(err error) error {
	if apierrors.IsNotFound(err) {
		return nil
	}
	return err
}

func (b *Backend) image(override string) string {
	if override != "" {
		return override
	}
	return b.cfg.Image
}

var _ backend.Backend = (*Backend)(nil)
