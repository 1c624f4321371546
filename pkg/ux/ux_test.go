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
	"bytes"
	"testing"
)

func TestParseColorMode(t *testing.T) {
	tests := []struct {
		in      string
		want    ColorMode
		wantErr bool
	}{
		{"", ColorAuto, false},
		{"auto", ColorAuto, false},
		{"ALWAYS", ColorAlways, false},
		{"on", ColorAlways, false},
		{"never", ColorNever, false},
		{"off", ColorNever, false},
		{"sometimes", ColorAuto, true},
	}
	for _, tt := range tests {
		got, err := ParseColorMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseColorMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseColorMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUseColor(t *testing.T) {
	var buf bytes.Buffer
	t.Setenv("NO_COLOR", "")

	if UseColor(ColorAuto, &buf) {
		t.Error("auto mode should not color a buffer")
	}
	if !UseColor(ColorAlways, &buf) {
		t.Error("always mode should color a buffer")
	}
	if UseColor(ColorNever, &buf) {
		t.Error("never mode should not color")
	}
}

func TestUseColor_NoColorEnv(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	if UseColor(ColorAuto, &bytes.Buffer{}) {
		t.Error("NO_COLOR should disable auto color")
	}
	if !UseColor(ColorAlways, &bytes.Buffer{}) {
		t.Error("NO_COLOR should not override always")
	}
}

func TestTheme_PlainRendersUnchanged(t *testing.T) {
	th := NewTheme(false)
	if th.Color() {
		t.Error("plain theme reports color")
	}
	if got := th.Render(th.Added, "+ a: 1"); got != "+ a: 1" {
		t.Errorf("Render() = %q", got)
	}
}

func TestTheme_Colored(t *testing.T) {
	th := NewTheme(true)
	if !th.Color() {
		t.Error("colored theme reports no color")
	}
	if got := th.Render(th.Deleted, "- a"); got == "" {
		t.Error("Render() returned empty string")
	}
}
