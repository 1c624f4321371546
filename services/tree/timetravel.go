// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tree

import (
	"fmt"
	"log/slog"

	"github.com/AleutianAI/signaltree/services/tree/history"
	"github.com/AleutianAI/signaltree/services/tree/treepath"
)

func (t *Tree) enableTimeTravel(cfg history.Config) error {
	t.history = history.New(cfg, t.restore,
		history.WithLogger(t.logger.With(slog.String("engine", "time_travel"))),
	)
	if err := t.history.Init(t.root.current()); err != nil {
		return fmt.Errorf("seed history: %w", err)
	}
	t.hooks = append(t.hooks, t.recordHistory)
	return nil
}

func (t *Tree) recordHistory(action history.Action, path treepath.Path) {
	payload := map[string]any{"path": path.String()}
	// Every state the tree accepted must stay reachable by undo, so the
	// tree's diff options do not apply here.
	if _, err := t.history.Record(action, t.root.current(), payload, t.strictDiff()...); err != nil {
		t.logger.Warn("history record failed",
			slog.String("action", string(action)),
			slog.String("error", err.Error()),
		)
	}
}

// restore writes a snapshot back without recording it.
func (t *Tree) restore(state any) error {
	t.restoring = true
	defer func() { t.restoring = false }()

	var err error
	t.sched.Batch(func() { err = t.root.set(state) })
	recordRestore(err == nil)
	return err
}

// TimeTravel reports whether the tree records history.
func (t *Tree) TimeTravel() bool { return t.history != nil }

// Undo restores the previous history entry. False when disabled or at
// the oldest entry.
func (t *Tree) Undo() bool {
	return t.history != nil && t.history.Undo()
}

// Redo restores the next history entry.
func (t *Tree) Redo() bool {
	return t.history != nil && t.history.Redo()
}

// JumpTo restores the entry at index.
func (t *Tree) JumpTo(index int) bool {
	return t.history != nil && t.history.JumpTo(index)
}

// CanUndo reports whether Undo would move.
func (t *Tree) CanUndo() bool {
	return t.history != nil && t.history.CanUndo()
}

// CanRedo reports whether Redo would move.
func (t *Tree) CanRedo() bool {
	return t.history != nil && t.history.CanRedo()
}

// CurrentIndex returns the history cursor, or -1 when disabled.
func (t *Tree) CurrentIndex() int {
	if t.history == nil {
		return -1
	}
	return t.history.CurrentIndex()
}

// History returns copies of all entries, oldest first. Nil when disabled.
func (t *Tree) History() []history.Entry {
	if t.history == nil {
		return nil
	}
	return t.history.History()
}

// ResetHistory collapses history to one RESET entry holding the current
// value.
func (t *Tree) ResetHistory() error {
	if t.history == nil {
		return ErrTimeTravelDisabled
	}
	return t.history.ResetHistory(t.root.current())
}
