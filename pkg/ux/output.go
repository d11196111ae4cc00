// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux styles terminal output for the netchaos CLI.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Palette: deep ocean teals plus the usual semantic colors.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles holds the shared lipgloss styles.
var Styles = struct {
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Bold     lipgloss.Style
	Muted    lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style

	Box      lipgloss.Style
	ErrorBox lipgloss.Style
}{
	Title:    lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle: lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:     lipgloss.NewStyle().Bold(true),
	Muted:    lipgloss.NewStyle().Foreground(ColorSlate),
	Success:  lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:  lipgloss.NewStyle().Foreground(ColorWarning),
	Error:    lipgloss.NewStyle().Foreground(ColorError),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon is a one-glyph status marker.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
)

// Render colors the icon by meaning.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// machineTag is the plain-text prefix an icon becomes in machine mode.
func (i Icon) machineTag() string {
	switch i {
	case IconSuccess:
		return "OK"
	case IconWarning:
		return "WARN"
	case IconError:
		return "ERROR"
	case IconPending:
		return "PENDING"
	default:
		return "INFO"
	}
}

// Printer writes styled lines to Out. Warnings and errors in machine mode
// go to Err so scripts can keep stdout clean.
type Printer struct {
	Out   io.Writer
	Err   io.Writer
	Level PersonalityLevel
}

// NewPrinter returns a Printer for stdout and stderr with the level detected
// from stdout.
func NewPrinter() *Printer {
	return &Printer{Out: os.Stdout, Err: os.Stderr, Level: DetectPersonality(os.Stdout)}
}

// Title prints a heading. Machine mode prints nothing.
func (p *Printer) Title(text string) {
	switch p.Level {
	case PersonalityMachine:
	case PersonalityMinimal:
		fmt.Fprintln(p.Out, text)
	default:
		fmt.Fprintln(p.Out, Styles.Title.Render(text))
	}
}

// Success prints a line marked as successful.
func (p *Printer) Success(text string) { p.status(IconSuccess, text, Styles.Success) }

// Warning prints a line marked as a warning.
func (p *Printer) Warning(text string) { p.status(IconWarning, text, Styles.Warning) }

// Error prints a line marked as an error.
func (p *Printer) Error(text string) { p.status(IconError, text, Styles.Error) }

// Info prints a plain informational line.
func (p *Printer) Info(text string) {
	if p.Level == PersonalityMachine {
		fmt.Fprintln(p.Out, text)
		return
	}
	fmt.Fprintf(p.Out, "%s %s\n", Styles.Muted.Render("│"), text)
}

func (p *Printer) status(icon Icon, text string, style lipgloss.Style) {
	switch p.Level {
	case PersonalityMachine:
		w := p.Out
		if icon == IconWarning || icon == IconError {
			w = p.errWriter()
		}
		fmt.Fprintf(w, "%s: %s\n", icon.machineTag(), text)
	case PersonalityMinimal:
		fmt.Fprintf(p.Out, "%s %s\n", icon, text)
	default:
		fmt.Fprintf(p.Out, "%s %s\n", icon.Render(), style.Render(text))
	}
}

// Box prints lines under a title inside a rounded border.
func (p *Printer) Box(title string, lines ...string) {
	p.box(Styles.Box, Styles.Title, title, lines)
}

// ErrorBox is Box with error coloring.
func (p *Printer) ErrorBox(title string, lines ...string) {
	p.box(Styles.ErrorBox, Styles.Error.Bold(true), title, lines)
}

func (p *Printer) box(frame, heading lipgloss.Style, title string, lines []string) {
	switch p.Level {
	case PersonalityMachine:
		for _, line := range lines {
			fmt.Fprintf(p.Out, "%s\t%s\n", title, line)
		}
	case PersonalityMinimal:
		fmt.Fprintln(p.Out, title)
		for _, line := range lines {
			fmt.Fprintf(p.Out, "  %s\n", line)
		}
	default:
		body := heading.Render(title)
		if len(lines) > 0 {
			body += "\n" + strings.Join(lines, "\n")
		}
		fmt.Fprintln(p.Out, frame.Render(body))
	}
}

func (p *Printer) errWriter() io.Writer {
	if p.Err != nil {
		return p.Err
	}
	return p.Out
}

// ProgressBar renders current/total as a bar of the given width.
func ProgressBar(level PersonalityLevel, current, total, width int) string {
	if level == PersonalityMachine || total <= 0 {
		return fmt.Sprintf("%d/%d", current, total)
	}
	pct := float64(current) / float64(total)
	filled := min(int(pct*float64(width)), width)
	bar := Styles.Success.Render(strings.Repeat("█", filled)) +
		Styles.Muted.Render(strings.Repeat("░", width-filled))
	return fmt.Sprintf("%s %3.0f%%", bar, pct*100)
}
