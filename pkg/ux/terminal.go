// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// ColorMode selects when output is colored.
type ColorMode string

const (
	// ColorAuto colors terminals unless NO_COLOR is set.
	ColorAuto ColorMode = "auto"

	// ColorAlways colors every writer.
	ColorAlways ColorMode = "always"

	// ColorNever disables color.
	ColorNever ColorMode = "never"
)

// ParseColorMode converts a flag value to a ColorMode. The empty string is
// ColorAuto.
func ParseColorMode(s string) (ColorMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ColorAuto, nil
	case "always", "yes", "on":
		return ColorAlways, nil
	case "never", "no", "off":
		return ColorNever, nil
	default:
		return ColorAuto, fmt.Errorf("unknown color mode %q", s)
	}
}

// UseColor decides whether output to w should be colored.
//
// Description:
//
//	ColorAlways and ColorNever are absolute. ColorAuto colors only when w
//	is an *os.File attached to a terminal and NO_COLOR is unset.
func UseColor(mode ColorMode, w io.Writer) bool {
	switch mode {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return IsTerminal(w)
}

// IsTerminal reports whether w is a terminal, including Cygwin ptys.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
