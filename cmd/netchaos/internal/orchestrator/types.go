// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"time"

	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/backend"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/tc"
)

// =============================================================================
// Unit status
// =============================================================================

// UnitStatus is the lifecycle state of an execution unit:
// Pending -> Dispatched -> Succeeded | Failed | TimedOut.
type UnitStatus string

const (
	StatusPending    UnitStatus = "Pending"
	StatusDispatched UnitStatus = "Dispatched"
	StatusSucceeded  UnitStatus = "Succeeded"
	StatusFailed     UnitStatus = "Failed"
	StatusTimedOut   UnitStatus = "TimedOut"
)

// Terminal reports whether s is final.
func (s UnitStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusTimedOut
}

// needsDiagnostics reports whether a unit ending in s gets its pod state and
// log captured before deletion.
func (s UnitStatus) needsDiagnostics() bool {
	return s == StatusFailed || s == StatusTimedOut
}

// Phase is the coarse state of a run, exposed through Snapshot.
type Phase string

const (
	PhasePlanning  Phase = "planning"
	PhaseRunning   Phase = "running"
	PhaseGrace     Phase = "grace"
	PhaseCleanup   Phase = "cleanup"
	PhaseCompleted Phase = "completed"
)

// =============================================================================
// Units and batches
// =============================================================================

// Unit is one execution unit: a job on one node carrying one parameter
// subset.
type Unit struct {
	ID     string
	Node   string
	Round  int
	Params tc.Params
	Script *tc.Script

	Status       UnitStatus
	DispatchedAt time.Time
	FinishedAt   time.Time
	Diagnostics  *Diagnostics
}

// Diagnostics is what the engine captured about a failed or timed-out unit
// before deleting it.
type Diagnostics struct {
	Pods   []backend.PodInfo `json:"pods,omitempty"`
	Logs   map[string]string `json:"logs,omitempty"`
	Errors []string          `json:"errors,omitempty"`
}

// Batch is the set of units dispatched together in one round.
type Batch struct {
	Round  int
	Params tc.Params
	Units  []*Unit

	Start time.Time
	End   time.Time
	Err   error
}

// =============================================================================
// Reports
// =============================================================================

// Outcome is the result of one run. It is a value copy, safe to keep and
// serialise after the run ends.
type Outcome struct {
	RunID     string              `json:"run_id"`
	Scenario  string              `json:"scenario"`
	Mode      string              `json:"mode"`
	Direction string              `json:"direction"`
	Duration  time.Duration       `json:"duration"`
	Targets   map[string][]string `json:"targets"`
	Params    []string            `json:"params"`
	Phase     Phase               `json:"phase"`
	Batches   []BatchReport       `json:"batches"`
	Start     time.Time           `json:"start"`
	End       time.Time           `json:"end,omitzero"`
	Success   bool                `json:"success"`
	Failures  []string            `json:"failures,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// BatchReport summarises one round.
type BatchReport struct {
	Round  int          `json:"round"`
	Params []string     `json:"params"`
	Units  []UnitReport `json:"units"`
	Start  time.Time    `json:"start,omitzero"`
	End    time.Time    `json:"end,omitzero"`
	Error  string       `json:"error,omitempty"`
}

// UnitReport summarises one unit.
type UnitReport struct {
	ID           string       `json:"id"`
	Node         string       `json:"node"`
	Params       string       `json:"params"`
	Status       UnitStatus   `json:"status"`
	DispatchedAt time.Time    `json:"dispatched_at,omitzero"`
	FinishedAt   time.Time    `json:"finished_at,omitzero"`
	Diagnostics  *Diagnostics `json:"diagnostics,omitempty"`
}

// Units returns every unit report across batches.
func (o *Outcome) Units() []UnitReport {
	var out []UnitReport
	for _, b := range o.Batches {
		out = append(out, b.Units...)
	}
	return out
}

// CountStatus returns how many units ended in s.
func (o *Outcome) CountStatus(s UnitStatus) int {
	n := 0
	for _, u := range o.Units() {
		if u.Status == s {
			n++
		}
	}
	return n
}
