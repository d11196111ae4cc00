// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package poll

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"
	clocktesting "k8s.io/utils/clock/testing"
)

// Clock is the time source used by Until and by the orchestrator's grace
// waits.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep blocks for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock returns a Clock backed by the wall clock.
func RealClock() Clock {
	return realClock{c: clock.RealClock{}}
}

type realClock struct {
	c clock.Clock
}

func (r realClock) Now() time.Time {
	return r.c.Now()
}

func (r realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := r.c.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}

// =============================================================================
// FakeClock
// =============================================================================

// FakeClock is a Clock whose Sleep advances simulated time instantly.
//
// It wraps the Kubernetes testing fake clock so components that also take a
// k8s.io/utils clock can share the same time line. Every Sleep call is
// recorded for assertions.
//
// Thread Safety: Safe for concurrent use.
type FakeClock struct {
	clk *clocktesting.FakeClock

	mu     sync.Mutex
	sleeps []time.Duration
}

// NewFakeClock returns a FakeClock starting at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{clk: clocktesting.NewFakeClock(start)}
}

// Now implements Clock.
func (f *FakeClock) Now() time.Time {
	return f.clk.Now()
}

// Sleep implements Clock by stepping the simulated time forward by d.
func (f *FakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.sleeps = append(f.sleeps, d)
	f.mu.Unlock()
	if d > 0 {
		f.clk.Step(d)
	}
	return nil
}

// Step advances simulated time without recording a sleep. Tests use it to
// model slow backend calls.
func (f *FakeClock) Step(d time.Duration) {
	f.clk.Step(d)
}

// Sleeps returns a copy of every duration passed to Sleep.
func (f *FakeClock) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.sleeps))
	copy(out, f.sleeps)
	return out
}

var (
	_ Clock = realClock{}
	_ Clock = (*FakeClock)(nil)
)
