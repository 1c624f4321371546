// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output styling for the signaltree CLI.
package ux

import (
	"github.com/charmbracelet/lipgloss"
)

// Signaltree color palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // Bright teal - additions, titles
	ColorTealPrimary = lipgloss.Color("#20B9B4") // Primary teal - cursor
	ColorSlate       = lipgloss.Color("#2C4A54") // Slate - muted text

	ColorWarning = lipgloss.Color("#F4D03F") // Gold - updates
	ColorError   = lipgloss.Color("#E74C3C") // Red - deletions
	ColorViolet  = lipgloss.Color("#B084F5") // Violet - shape changes
)

// Theme holds the styles used by the CLI printers. A plain theme renders
// text unchanged.
type Theme struct {
	Title    lipgloss.Style
	Muted    lipgloss.Style
	Cursor   lipgloss.Style
	Added    lipgloss.Style
	Updated  lipgloss.Style
	Deleted  lipgloss.Style
	Replaced lipgloss.Style

	color bool
}

// NewTheme returns the colored theme, or a plain one when color is false.
func NewTheme(color bool) Theme {
	if !color {
		return Theme{}
	}
	return Theme{
		Title:    lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
		Muted:    lipgloss.NewStyle().Foreground(ColorSlate),
		Cursor:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealPrimary),
		Added:    lipgloss.NewStyle().Foreground(ColorTealBright),
		Updated:  lipgloss.NewStyle().Foreground(ColorWarning),
		Deleted:  lipgloss.NewStyle().Foreground(ColorError),
		Replaced: lipgloss.NewStyle().Foreground(ColorViolet),
		color:    true,
	}
}

// Color reports whether the theme emits escape sequences.
func (t Theme) Color() bool { return t.color }

// Render applies s to text when the theme is colored.
func (t Theme) Render(s lipgloss.Style, text string) string {
	if !t.color {
		return text
	}
	return s.Render(text)
}
