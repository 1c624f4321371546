// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/signaltree/pkg/ux"
	"github.com/AleutianAI/signaltree/services/tree/diff"
	"github.com/AleutianAI/signaltree/services/tree/history"
)

// printer renders command output, styled only when color is enabled.
type printer struct {
	w     io.Writer
	theme ux.Theme
}

func newPrinter(w io.Writer, mode ux.ColorMode) *printer {
	return &printer{w: w, theme: ux.NewTheme(ux.UseColor(mode, w))}
}

func (p *printer) render(s lipgloss.Style, text string) string {
	return p.theme.Render(s, text)
}

// changes writes one line per change.
func (p *printer) changes(res diff.Result) {
	if !res.HasChanges {
		fmt.Fprintln(p.w, p.render(p.theme.Muted, "no changes"))
		return
	}
	for _, c := range res.Changes {
		fmt.Fprintln(p.w, p.changeLine(c))
	}
	counts := res.CountByKind()
	fmt.Fprintln(p.w, p.render(p.theme.Muted, fmt.Sprintf("%d added, %d updated, %d deleted, %d replaced",
		counts[diff.KindAdd], counts[diff.KindUpdate], counts[diff.KindDelete], counts[diff.KindReplace])))
}

func (p *printer) changeLine(c diff.Change) string {
	path := c.Path.String()
	if path == "" {
		path = "(root)"
	}
	switch c.Kind {
	case diff.KindAdd:
		return p.render(p.theme.Added, fmt.Sprintf("+ %s: %s", path, compact(c.Value)))
	case diff.KindUpdate:
		return p.render(p.theme.Updated, fmt.Sprintf("~ %s: %s -> %s", path, compact(c.OldValue), compact(c.Value)))
	case diff.KindDelete:
		return p.render(p.theme.Deleted, fmt.Sprintf("- %s: %s", path, compact(c.OldValue)))
	default:
		return p.render(p.theme.Replaced, fmt.Sprintf("! %s: %s -> %s", path, compact(c.OldValue), compact(c.Value)))
	}
}

// history writes one line per entry, marking the cursor.
func (p *printer) history(entries []history.Entry, current int) {
	for i, e := range entries {
		marker := " "
		if i == current {
			marker = p.render(p.theme.Cursor, "*")
		}
		where := ""
		if m, ok := e.Payload.(map[string]any); ok {
			if path, _ := m["path"].(string); path != "" {
				where = " " + path
			}
		}
		fmt.Fprintf(p.w, "%s %3d  %-6s%s  %s\n",
			marker, i, e.Action, where,
			p.render(p.theme.Muted, e.Timestamp.Format("15:04:05.000")+" "+shortID(e.ID)))
	}
}

// diffJSON is the machine-readable diff output.
type diffJSON struct {
	HasChanges bool          `json:"has_changes"`
	Changes    []diff.Change `json:"changes"`
}

func writeDiffJSON(w io.Writer, res diff.Result) error {
	out := diffJSON{HasChanges: res.HasChanges, Changes: res.Changes}
	if out.Changes == nil {
		out.Changes = []diff.Change{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func compact(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
