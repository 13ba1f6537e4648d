// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders lcbandit's terminal output: a styled mode for
// interactive terminals and a plain mode for pipes, CI logs and files.
package ux

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Brand colors
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Header    lipgloss.Style
	Box       lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),
	Header:    lipgloss.NewStyle().Bold(true).Foreground(ColorTealPrimary),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
}

// Mode selects styled or plain output.
type Mode int

const (
	ModePlain Mode = iota
	ModeStyled
)

// DetectMode returns ModeStyled when w is a terminal and NO_COLOR is unset.
func DetectMode(w io.Writer) Mode {
	if os.Getenv("NO_COLOR") != "" {
		return ModePlain
	}
	f, ok := w.(*os.File)
	if !ok {
		return ModePlain
	}
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return ModeStyled
	}
	return ModePlain
}

// Printer writes user-facing messages.
type Printer struct {
	w    io.Writer
	mode Mode
}

// NewPrinter creates a printer with the given mode.
func NewPrinter(w io.Writer, mode Mode) *Printer {
	return &Printer{w: w, mode: mode}
}

// Stdout is a printer on os.Stdout with detected mode.
func Stdout() *Printer {
	return NewPrinter(os.Stdout, DetectMode(os.Stdout))
}

// Mode reports the printer's mode.
func (p *Printer) Mode() Mode { return p.mode }

// Writer is the destination.
func (p *Printer) Writer() io.Writer { return p.w }

func (p *Printer) styled() bool { return p.mode == ModeStyled }

// Title prints a heading.
func (p *Printer) Title(text string) {
	if p.styled() {
		fmt.Fprintln(p.w, Styles.Title.Render(text))
		return
	}
	fmt.Fprintf(p.w, "== %s ==\n", text)
}

// Success prints a success line.
func (p *Printer) Success(text string) {
	if p.styled() {
		fmt.Fprintf(p.w, "%s %s\n", Styles.Success.Render("✓"), Styles.Success.Render(text))
		return
	}
	fmt.Fprintf(p.w, "OK: %s\n", text)
}

// Warning prints a warning line.
func (p *Printer) Warning(text string) {
	if p.styled() {
		fmt.Fprintf(p.w, "%s %s\n", Styles.Warning.Render("⚠"), Styles.Warning.Render(text))
		return
	}
	fmt.Fprintf(p.w, "WARN: %s\n", text)
}

// Error prints an error line.
func (p *Printer) Error(text string) {
	if p.styled() {
		fmt.Fprintf(p.w, "%s %s\n", Styles.Error.Render("✗"), Styles.Error.Render(text))
		return
	}
	fmt.Fprintf(p.w, "ERROR: %s\n", text)
}

// Info prints an informational line.
func (p *Printer) Info(text string) {
	if p.styled() {
		fmt.Fprintf(p.w, "%s %s\n", Styles.Muted.Render("│"), text)
		return
	}
	fmt.Fprintln(p.w, text)
}

// KeyValue prints an aligned "key: value" line.
func (p *Printer) KeyValue(key string, value any) {
	if p.styled() {
		fmt.Fprintf(p.w, "  %s %v\n", Styles.Muted.Render(fmt.Sprintf("%-16s", key+":")), value)
		return
	}
	fmt.Fprintf(p.w, "%s: %v\n", key, value)
}

// Box prints content in a rounded box.
func (p *Printer) Box(title, content string) {
	if !p.styled() {
		fmt.Fprintf(p.w, "%s:\n%s\n", title, content)
		return
	}
	fmt.Fprintln(p.w, Styles.Box.Render(Styles.Title.Render(title)+"\n"+content))
}
