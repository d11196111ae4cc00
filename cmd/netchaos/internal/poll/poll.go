// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package poll provides a bounded polling loop independent of any
// scheduling logic.
//
// A poll is parameterised by an interval, a maximum wait and a Condition. The
// loop evaluates the condition immediately, then once per interval, and gives
// up with ErrTimeout once the maximum wait has elapsed. Time is read through
// a Clock so tests can run the loop against a fake clock instead of sleeping.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// DefaultInterval is the status polling interval used by the engine.
	DefaultInterval = 5 * time.Second

	// MinInterval prevents a misconfigured interval from spinning.
	MinInterval = 10 * time.Millisecond
)

// ErrTimeout is returned by Until when the condition is still false after
// Options.Timeout.
var ErrTimeout = errors.New("poll: timed out waiting for condition")

// =============================================================================
// Types
// =============================================================================

// Condition reports whether polling is done.
//
// Returning a non-nil error stops the loop and Until returns that error.
// Conditions that want to tolerate transient failures should log them and
// return (false, nil).
type Condition func(ctx context.Context) (done bool, err error)

// Options configures Until.
type Options struct {
	// Interval is the time between evaluations. Values below MinInterval are
	// raised to MinInterval; zero means DefaultInterval.
	Interval time.Duration

	// Timeout is the maximum wait measured from the first evaluation. Must
	// be positive.
	Timeout time.Duration

	// Clock is the time source. Nil means the real clock.
	Clock Clock
}

// =============================================================================
// Until
// =============================================================================

// Until evaluates cond until it reports done, returns an error, the timeout
// elapses, or ctx is cancelled.
//
// # Description
//
// The condition is evaluated once immediately. Between evaluations Until
// sleeps for the interval, or for the remaining time to the deadline if that
// is shorter, so the final evaluation happens at the deadline and Until
// returns no later than deadline + one interval even when a single
// evaluation is slow.
//
// # Outputs
//
//   - nil when cond reported done
//   - ErrTimeout when the deadline passed
//   - the condition's error, or ctx.Err() wrapped, otherwise
//
// # Example
//
//	err := poll.Until(ctx, poll.Options{Interval: time.Second, Timeout: time.Minute},
//	    func(ctx context.Context) (bool, error) {
//	        return pod.Status.Phase == "Running", nil
//	    })
func Until(ctx context.Context, opts Options, cond Condition) error {
	if opts.Timeout <= 0 {
		return fmt.Errorf("poll: timeout must be positive, got %v", opts.Timeout)
	}
	interval := opts.Interval
	if interval == 0 {
		interval = DefaultInterval
	}
	interval = EnforceMin(interval, MinInterval)

	clk := opts.Clock
	if clk == nil {
		clk = RealClock()
	}

	deadline := clk.Now().Add(opts.Timeout)
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("poll: %w", err)
		}

		done, err := cond(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		now := clk.Now()
		if !now.Before(deadline) {
			return ErrTimeout
		}

		wait := interval
		if remaining := deadline.Sub(now); remaining < wait {
			wait = remaining
		}
		if err := clk.Sleep(ctx, wait); err != nil {
			return fmt.Errorf("poll: %w", err)
		}
	}
}

// EnforceMin returns requested, or minimum when requested is below it.
func EnforceMin(requested, minimum time.Duration) time.Duration {
	if requested < minimum {
		return minimum
	}
	return requested
}

// EnforceDefault returns requested, or def when requested is zero or negative.
func EnforceDefault(requested, def time.Duration) time.Duration {
	if requested <= 0 {
		return def
	}
	return requested
}
