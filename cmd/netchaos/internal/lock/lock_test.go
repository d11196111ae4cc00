// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Dir: dir, Namespace: "chaos"})

	require.NoError(t, l.Acquire())
	assert.True(t, l.IsHeld())
	assert.Equal(t, filepath.Join(dir, "netchaos-chaos.lock"), l.Path())
	assert.Equal(t, os.Getpid(), l.HolderPID())
	require.NoError(t, l.Acquire(), "re-acquire by the holder is a no-op")

	require.NoError(t, l.Release())
	assert.False(t, l.IsHeld())
	assert.Equal(t, 0, l.HolderPID())
	assert.NoError(t, l.Release(), "double release")
}

func TestAcquire_SecondHolderRefused(t *testing.T) {
	dir := t.TempDir()
	first := New(Config{Dir: dir, Namespace: "chaos"})
	require.NoError(t, first.Acquire())
	defer first.Release()

	// flock locks belong to the open file, so a second handle in the same
	// process contends like another process would.
	err := New(Config{Dir: dir, Namespace: "chaos"}).Acquire()
	var held *HeldError
	require.ErrorAs(t, err, &held)
	assert.Equal(t, "chaos", held.Namespace)
	assert.Equal(t, os.Getpid(), held.HolderPID)
	assert.Contains(t, err.Error(), `namespace "chaos"`)
}

func TestAcquire_NamespacesIndependent(t *testing.T) {
	dir := t.TempDir()
	a := New(Config{Dir: dir, Namespace: "a"})
	b := New(Config{Dir: dir, Namespace: "b"})
	require.NoError(t, a.Acquire())
	defer a.Release()
	require.NoError(t, b.Acquire())
	defer b.Release()
}

func TestAcquire_AfterRelease(t *testing.T) {
	dir := t.TempDir()
	first := New(Config{Dir: dir})
	require.NoError(t, first.Acquire())
	require.NoError(t, first.Release())

	second := New(Config{Dir: dir})
	require.NoError(t, second.Acquire())
	assert.NoError(t, second.Release())
}

func TestHeldError_WithoutPID(t *testing.T) {
	err := &HeldError{Namespace: "x", LockPath: "/tmp/netchaos-x.lock"}
	assert.Contains(t, err.Error(), "lsof /tmp/netchaos-x.lock")
}
