// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"strings"
	"time"
)

// Field is one "key: value" line in a summary header.
type Field struct {
	Key   string
	Value string
}

// UnitLine is one row of a round: a status icon, the unit name and a short
// detail such as the node or failure reason.
type UnitLine struct {
	Icon   Icon
	Status string
	Name   string
	Detail string
}

// Round groups the units that ran together.
type Round struct {
	Label string
	Units []UnitLine
}

// RunSummary is the end-of-run view of one experiment.
type RunSummary struct {
	Title    string
	RunID    string
	Success  bool
	Elapsed  time.Duration
	Fields   []Field
	Rounds   []Round
	Failures []string
}

// counts returns the number of units and how many finished with IconSuccess.
func (s RunSummary) counts() (total, ok int) {
	for _, r := range s.Rounds {
		for _, u := range r.Units {
			total++
			if u.Icon == IconSuccess {
				ok++
			}
		}
	}
	return total, ok
}

// Summary prints s.
//
// Machine mode emits one tab-separated record per line:
//
//	RUN	<run id>	<title>	ok|failed	<elapsed>
//	FIELD	<key>	<value>
//	UNIT	<round>	<name>	<status>	<detail>
//	FAILURE	<text>
func (p *Printer) Summary(s RunSummary) {
	if p.Level == PersonalityMachine {
		p.machineSummary(s)
		return
	}

	total, ok := s.counts()
	var lines []string
	for _, f := range s.Fields {
		lines = append(lines, fmt.Sprintf("%s %s", p.muted(f.Key+":"), f.Value))
	}
	for _, r := range s.Rounds {
		lines = append(lines, "", p.bold(r.Label))
		for _, u := range r.Units {
			icon := string(u.Icon)
			if p.Level == PersonalityFull {
				icon = u.Icon.Render()
			}
			line := fmt.Sprintf("  %s %s", icon, u.Name)
			if u.Detail != "" {
				line += " " + p.muted("("+u.Detail+")")
			}
			lines = append(lines, line)
		}
	}
	lines = append(lines, "", fmt.Sprintf("%s units succeeded  %s",
		ProgressBar(p.Level, ok, total, 20),
		p.muted(fmt.Sprintf("%d/%d in %s", ok, total, s.Elapsed.Round(time.Second)))))

	title := fmt.Sprintf("%s  %s", s.Title, s.RunID)
	if s.Success {
		p.Box(title, lines...)
		p.Success("experiment completed")
		return
	}
	p.ErrorBox(title, append(lines, p.failureLines(s.Failures)...)...)
	p.Error("experiment failed")
}

func (p *Printer) failureLines(failures []string) []string {
	if len(failures) == 0 {
		return nil
	}
	out := []string{"", p.bold("Failures")}
	for _, f := range failures {
		out = append(out, "  "+string(IconArrow)+" "+f)
	}
	return out
}

func (p *Printer) machineSummary(s RunSummary) {
	result := "ok"
	if !s.Success {
		result = "failed"
	}
	fmt.Fprintf(p.Out, "RUN\t%s\t%s\t%s\t%s\n", s.RunID, s.Title, result, s.Elapsed.Round(time.Second))
	for _, f := range s.Fields {
		fmt.Fprintf(p.Out, "FIELD\t%s\t%s\n", f.Key, f.Value)
	}
	for _, r := range s.Rounds {
		for _, u := range r.Units {
			fmt.Fprintf(p.Out, "UNIT\t%s\t%s\t%s\t%s\n", r.Label, u.Name, u.Status, u.Detail)
		}
	}
	for _, f := range s.Failures {
		fmt.Fprintf(p.Out, "FAILURE\t%s\n", strings.ReplaceAll(f, "\t", " "))
	}
}

func (p *Printer) muted(s string) string {
	if p.Level != PersonalityFull {
		return s
	}
	return Styles.Muted.Render(s)
}

func (p *Printer) bold(s string) string {
	if p.Level != PersonalityFull {
		return s
	}
	return Styles.Bold.Render(s)
}
