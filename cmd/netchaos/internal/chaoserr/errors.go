// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chaoserr defines the error taxonomy shared by the network chaos
// engine.
//
// Every failure the engine reports carries a Kind. Kinds decide whether the
// failure is fatal to the experiment and which exit code the CLI returns:
//
//	Configuration  fatal, detected before any dispatch       exit 2
//	Resolution     fatal, detected before any dispatch       exit 3
//	Dispatch       fatal, triggers cleanup                   exit 4
//	Timeout        fatal, triggers cleanup                   exit 5
//	Poll           recovered locally, logged only            -
//
// Callers test the kind with errors.Is against the exported sentinels:
//
//	if errors.Is(err, chaoserr.ErrTimeout) { ... }
package chaoserr

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Kinds
// =============================================================================

// Kind classifies an engine failure.
type Kind int

const (
	// KindUnknown is never produced by the engine itself.
	KindUnknown Kind = iota

	// KindConfiguration covers invalid scenarios: bad execution mode, unknown
	// parameter name, malformed value, no node spec and no label selector.
	KindConfiguration

	// KindResolution covers node and interface resolution failures.
	KindResolution

	// KindDispatch covers execution unit creation rejected by the backend.
	KindDispatch

	// KindPoll covers transient failures reading a unit's status.
	KindPoll

	// KindTimeout covers a batch that did not finish before its deadline.
	KindTimeout
)

// String returns the lower-case kind name used in logs and reports.
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindResolution:
		return "resolution"
	case KindDispatch:
		return "dispatch"
	case KindPoll:
		return "poll"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Fatal reports whether a failure of this kind aborts the experiment.
func (k Kind) Fatal() bool {
	return k != KindPoll
}

// Sentinels for errors.Is. An *Error matches the sentinel of its Kind.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrResolution    = errors.New("resolution error")
	ErrDispatch      = errors.New("dispatch error")
	ErrPoll          = errors.New("poll error")
	ErrTimeout       = errors.New("timeout error")
)

func (k Kind) sentinel() error {
	switch k {
	case KindConfiguration:
		return ErrConfiguration
	case KindResolution:
		return ErrResolution
	case KindDispatch:
		return ErrDispatch
	case KindPoll:
		return ErrPoll
	case KindTimeout:
		return ErrTimeout
	default:
		return nil
	}
}

// =============================================================================
// Error
// =============================================================================

// Error is a classified engine failure.
//
// # Description
//
// Error records what the engine was doing (Op), which node or execution unit
// was involved, and the underlying cause. It is immutable after creation and
// safe for concurrent reads.
//
// # Example
//
//	err := chaoserr.Dispatch("create job", "node-a", "netchaos-latency-1a2b3c4d", apiErr)
//	errors.Is(err, chaoserr.ErrDispatch) // true
//	errors.Is(err, apiErr)               // true
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// Op is a short description of the failed operation.
	Op string

	// Node is the target node, if any.
	Node string

	// Unit is the execution unit identifier, if any.
	Unit string

	// Err is the underlying cause (may be nil).
	Err error
}

// Error formats the failure as "<kind>: <op> [node=..] [unit=..]: <cause>".
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(" error")
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Node != "" {
		fmt.Fprintf(&b, " node=%s", e.Node)
	}
	if e.Unit != "" {
		fmt.Fprintf(&b, " unit=%s", e.Unit)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

var _ error = (*Error)(nil)

// =============================================================================
// Constructors
// =============================================================================

// Configuration returns a KindConfiguration error.
func Configuration(op string, err error) *Error {
	return &Error{Kind: KindConfiguration, Op: op, Err: err}
}

// Configurationf returns a KindConfiguration error with a formatted cause.
func Configurationf(op, format string, args ...any) *Error {
	return Configuration(op, fmt.Errorf(format, args...))
}

// Resolution returns a KindResolution error for node.
func Resolution(op, node string, err error) *Error {
	return &Error{Kind: KindResolution, Op: op, Node: node, Err: err}
}

// Dispatch returns a KindDispatch error for a unit on node.
func Dispatch(op, node, unit string, err error) *Error {
	return &Error{Kind: KindDispatch, Op: op, Node: node, Unit: unit, Err: err}
}

// Poll returns a KindPoll error for a unit.
func Poll(unit string, err error) *Error {
	return &Error{Kind: KindPoll, Op: "read unit status", Unit: unit, Err: err}
}

// Timeout returns a KindTimeout error.
func Timeout(op string, err error) *Error {
	return &Error{Kind: KindTimeout, Op: op, Err: err}
}

// =============================================================================
// Helpers
// =============================================================================

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Exit codes returned by the CLI.
const (
	ExitOK            = 0
	ExitGeneric       = 1
	ExitConfiguration = 2
	ExitResolution    = 3
	ExitDispatch      = 4
	ExitTimeout       = 5
	ExitUnitsFailed   = 6
)

// ErrUnitsFailed is returned when every batch completed but at least one
// execution unit terminated in the Failed state.
var ErrUnitsFailed = errors.New("one or more execution units failed")

// ExitCode maps err to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, ErrUnitsFailed) {
		return ExitUnitsFailed
	}
	switch KindOf(err) {
	case KindConfiguration:
		return ExitConfiguration
	case KindResolution:
		return ExitResolution
	case KindDispatch:
		return ExitDispatch
	case KindTimeout:
		return ExitTimeout
	default:
		return ExitGeneric
	}
}
