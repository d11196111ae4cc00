// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tc

import (
	"fmt"
	"strings"
	"time"
)

// exitOnSignal is the exit status of a script interrupted by TERM or INT,
// 128 + SIGTERM.
const exitOnSignal = 143

// Script is a generated impairment program for one execution unit.
//
// A Script is an ordered list of typed actions. Setup applies the impairment,
// Teardown reverts it, and Inspect lists the resulting qdiscs. The rendered
// shell form installs Teardown as a signal trap so that deleting the unit
// mid-hold still reverts the impairment.
type Script struct {
	Direction  Direction
	Interfaces []string
	Params     Params

	// Hold is how long the impairment stays applied.
	Hold time.Duration

	// Grace is the pause between Teardown and the final Inspect.
	Grace time.Duration

	Setup    []Action
	Inspect  []Action
	Teardown []Action
}

// Actions returns the script in execution order:
// setup, inspect, hold, teardown, grace, inspect.
func (s *Script) Actions() []Action {
	out := make([]Action, 0, len(s.Setup)+len(s.Teardown)+2*len(s.Inspect)+2)
	out = append(out, s.Setup...)
	out = append(out, s.Inspect...)
	out = append(out, Action{Kind: ActSleep, Seconds: seconds(s.Hold)})
	out = append(out, s.Teardown...)
	out = append(out, Action{Kind: ActSleep, Seconds: seconds(s.Grace)})
	out = append(out, s.Inspect...)
	return out
}

// Render returns the script as POSIX shell source for `/bin/sh -c`.
//
// Every applying setup step sets a flag once it succeeds, and its revert
// only runs while that flag is set. A failed setup step therefore reverts
// exactly the steps before it, and revert is safe to run twice.
//
// Layout:
//
//	revert() { <teardown, each guarded by its flag and || true> }
//	trap 'revert; exit 143' TERM INT
//	<setup, each || { revert; exit 1; } then flag=1>
//	<inspect>
//	sleep <hold> & wait $!
//	trap - TERM INT
//	revert
//	sleep <grace>
//	<inspect>
func (s *Script) Render() string {
	setupFlags, teardownFlags := s.flags()
	var b strings.Builder

	b.WriteString("revert() {\n")
	for i, a := range s.Teardown {
		if f := teardownFlags[i]; f != "" {
			fmt.Fprintf(&b, "  if [ -n \"$%s\" ]; then %s || true; %s=; fi\n", f, a, f)
			continue
		}
		fmt.Fprintf(&b, "  %s || true\n", a)
	}
	b.WriteString("  :\n}\n")
	fmt.Fprintf(&b, "trap 'revert; exit %d' TERM INT\n", exitOnSignal)

	for i, a := range s.Setup {
		if a.BestEffort {
			fmt.Fprintf(&b, "%s || true\n", a)
			continue
		}
		fmt.Fprintf(&b, "%s || { revert; exit 1; }\n", a)
		if f := setupFlags[i]; f != "" {
			fmt.Fprintf(&b, "%s=1\n", f)
		}
	}
	for _, a := range s.Inspect {
		fmt.Fprintf(&b, "%s\n", a)
	}

	// Backgrounding the sleep lets the shell run the trap as soon as a
	// signal arrives instead of after the sleep returns.
	fmt.Fprintf(&b, "sleep %d & wait $!\n", seconds(s.Hold))
	b.WriteString("trap - TERM INT\n")
	b.WriteString("revert\n")
	fmt.Fprintf(&b, "sleep %d\n", seconds(s.Grace))
	for _, a := range s.Inspect {
		fmt.Fprintf(&b, "%s\n", a)
	}
	return b.String()
}

// flags names a shell variable for every applying setup step that has a
// revert in Teardown, and returns for each Teardown step the flag of the
// setup step it undoes. Unpaired steps get "".
func (s *Script) flags() (setup, teardown []string) {
	setup = make([]string, len(s.Setup))
	teardown = make([]string, len(s.Teardown))
	for j, t := range s.Teardown {
		for i, a := range s.Setup {
			if setup[i] != "" || a.BestEffort {
				continue
			}
			if r, ok := a.Kind.Revert(); ok && r == t.Kind && a.Dev == t.Dev {
				setup[i] = fmt.Sprintf("applied_%d", i)
				teardown[j] = setup[i]
				break
			}
		}
	}
	return setup, teardown
}

// Command returns the container command that runs the script.
func (s *Script) Command() []string {
	return []string{"/bin/sh", "-c", s.Render()}
}

// CheckPairing verifies that every applying action in Setup has exactly one
// matching revert action in Teardown on the same device, and that Teardown
// reverts nothing Setup did not apply.
func (s *Script) CheckPairing() error {
	type key struct {
		kind ActionKind
		dev  string
	}
	pending := make(map[key]int)

	for _, a := range s.Setup {
		if r, ok := a.Kind.Revert(); ok {
			pending[key{r, a.Dev}]++
		}
	}
	for _, a := range s.Teardown {
		if !a.Kind.IsRevert() {
			continue
		}
		k := key{a.Kind, a.Dev}
		if pending[k] == 0 {
			return fmt.Errorf("tc: %s on %s reverts nothing", a.Kind, a.Dev)
		}
		pending[k]--
	}
	for k, n := range pending {
		if n != 0 {
			return fmt.Errorf("tc: %d apply action(s) on %s have no %s", n, k.dev, k.kind)
		}
	}
	return nil
}

// Count returns how many actions of kind appear in the full execution order.
func (s *Script) Count(kind ActionKind) int {
	n := 0
	for _, a := range s.Actions() {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

func seconds(d time.Duration) int {
	return int(d / time.Second)
}
