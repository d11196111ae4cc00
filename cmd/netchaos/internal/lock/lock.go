// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lock keeps a host to one experiment per namespace.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Locker is an inter-process exclusive lock.
type Locker interface {
	// Acquire takes the lock without blocking.
	Acquire() error

	// Release drops the lock. Safe to call when not held.
	Release() error

	// IsHeld reports whether this instance holds the lock.
	IsHeld() bool
}

// Config locates lock files.
type Config struct {
	// Dir holds the lock and PID files. Default: the system temp directory.
	Dir string

	// Namespace scopes the lock. Experiments in different namespaces do not
	// exclude each other.
	Namespace string
}

// ExperimentLock implements Locker with flock(2) on
// {Dir}/netchaos-{Namespace}.lock. The holder's PID is written next to it in
// a .pid file so a refused Acquire can name the other process.
//
// # Thread Safety
//
// Not safe for concurrent use. Hold one per process, typically in main.
//
// # Limitations
//
//   - Advisory only
//   - Unreliable on NFS
//   - A crashed holder's flock is released by the kernel, its PID file is not
type ExperimentLock struct {
	namespace string
	lockPath  string
	pidPath   string
	file      *os.File
	held      bool
}

// HeldError reports that another process holds the lock.
type HeldError struct {
	Namespace string
	HolderPID int
	LockPath  string
}

// Error implements the error interface.
func (e *HeldError) Error() string {
	if e.HolderPID > 0 {
		return fmt.Sprintf("another experiment is running in namespace %q (PID %d)", e.Namespace, e.HolderPID)
	}
	return fmt.Sprintf("another experiment is running in namespace %q (check: lsof %s)", e.Namespace, e.LockPath)
}

// New returns an ExperimentLock. It does not acquire it.
func New(cfg Config) *ExperimentLock {
	if cfg.Dir == "" {
		cfg.Dir = os.TempDir()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	base := filepath.Join(cfg.Dir, "netchaos-"+cfg.Namespace)
	return &ExperimentLock{namespace: cfg.Namespace, lockPath: base + ".lock", pidPath: base + ".pid"}
}

// Acquire takes the lock or returns *HeldError when another process has it.
func (l *ExperimentLock) Acquire() error {
	if l.held {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.lockPath), 0o755); err != nil {
		return fmt.Errorf("lock: create dir: %w", err)
	}

	f, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("lock: open %s: %w", l.lockPath, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return &HeldError{Namespace: l.namespace, HolderPID: l.HolderPID(), LockPath: l.lockPath}
		}
		return fmt.Errorf("lock: flock %s: %w", l.lockPath, err)
	}

	l.file = f
	l.held = true
	// Best effort: the PID only improves the message a competing process
	// prints.
	_ = os.WriteFile(l.pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
	return nil
}

// Release drops the lock and removes the PID file. The lock file stays.
func (l *ExperimentLock) Release() error {
	if !l.held || l.file == nil {
		return nil
	}
	_ = os.Remove(l.pidPath)
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	_ = l.file.Close()
	l.file = nil
	l.held = false
	if err != nil {
		return fmt.Errorf("lock: release: %w", err)
	}
	return nil
}

// IsHeld implements Locker.
func (l *ExperimentLock) IsHeld() bool { return l.held }

// HolderPID returns the PID recorded by the current holder, or 0.
func (l *ExperimentLock) HolderPID() int {
	data, err := os.ReadFile(l.pidPath)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// Path returns the lock file path.
func (l *ExperimentLock) Path() string { return l.lockPath }

var _ Locker = (*ExperimentLock)(nil)
