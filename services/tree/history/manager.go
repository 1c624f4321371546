// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history keeps a bounded, linear undo/redo log of state snapshots.
//
// Entries are deep copies taken on write and handed out as deep copies on
// read, so nothing outside the Manager can reach a stored snapshot. Moving
// through history calls a restore function supplied by the owner; the
// Manager ignores AddEntry calls that arrive while a restore is running.
package history

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/signaltree/services/tree/diff"
	"github.com/AleutianAI/signaltree/services/tree/snapshot"
)

// DefaultMaxHistorySize is the entry cap when none is configured.
const DefaultMaxHistorySize = 100

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	historyEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaltree_history_entries_total",
		Help: "Total history entries recorded by action",
	}, []string{"action"})

	historyNavigationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaltree_history_navigation_total",
		Help: "Total undo/redo/jump operations by operation and result",
	}, []string{"operation", "result"})

	historyEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signaltree_history_evictions_total",
		Help: "Total entries dropped because the history cap was reached",
	})

	historyTruncatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signaltree_history_truncated_total",
		Help: "Total redo entries discarded by a new write",
	})

	historySkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signaltree_history_skipped_total",
		Help: "Total writes not recorded because the state did not change",
	})
)

// Action labels what produced an entry.
type Action string

const (
	ActionInit   Action = "INIT"
	ActionReset  Action = "RESET"
	ActionSet    Action = "SET"
	ActionUpdate Action = "UPDATE"
	ActionBatch  Action = "BATCH"
)

// Entry is one snapshot in the history.
type Entry struct {
	// ID uniquely identifies the entry.
	ID string `json:"id"`

	// State is a deep copy of the tree value after the action.
	State any `json:"state"`

	// Timestamp is when the entry was recorded.
	Timestamp time.Time `json:"timestamp"`

	// Action is what produced the entry.
	Action Action `json:"action"`

	// Payload is optional caller metadata, such as the written path.
	Payload any `json:"payload,omitempty"`
}

// Config controls a Manager.
type Config struct {
	// Enabled turns time travel on for a tree.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// MaxHistorySize caps the number of retained entries, INIT included.
	MaxHistorySize int `yaml:"max_history_size" json:"max_history_size" validate:"gte=1,lte=100000"`
}

// DefaultConfig returns an enabled config with DefaultMaxHistorySize.
func DefaultConfig() Config {
	return Config{Enabled: true, MaxHistorySize: DefaultMaxHistorySize}
}

// RestoreFunc writes a snapshot back into the live state.
type RestoreFunc func(state any) error

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock sets the time source for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager is a bounded linear history with a cursor.
//
// Description:
//
//	Entries live in a RingBuffer sized by Config.MaxHistorySize. The
//	cursor (CurrentIndex) points at the entry matching the live state.
//	Appending while the cursor is behind the newest entry first discards
//	the entries after it, so history never branches.
//
// Thread Safety: NOT safe for concurrent use.
type Manager struct {
	entries   *RingBuffer[Entry]
	current   int
	restore   RestoreFunc
	restoring bool
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Manager. Call Init before use.
//
// Inputs:
//   - cfg: Capacity; MaxHistorySize < 1 uses DefaultMaxHistorySize.
//   - restore: Called with a private copy of the target snapshot on
//     Undo/Redo/JumpTo. May be nil for a record-only history.
func New(cfg Config, restore RestoreFunc, opts ...Option) *Manager {
	size := cfg.MaxHistorySize
	if size < 1 {
		size = DefaultMaxHistorySize
	}
	m := &Manager{
		entries: NewRingBuffer[Entry](size),
		restore: restore,
		logger:  slog.Default().With(slog.String("component", "history")),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init discards everything and records the initial state as INIT.
func (m *Manager) Init(state any) error {
	return m.seed(ActionInit, state)
}

// ResetHistory collapses history to a single RESET entry holding state.
// The live state is not touched.
func (m *Manager) ResetHistory(state any) error {
	return m.seed(ActionReset, state)
}

func (m *Manager) seed(action Action, state any) error {
	e, err := m.newEntry(action, state, nil)
	if err != nil {
		return err
	}
	m.entries.Clear()
	m.entries.Push(e)
	m.current = 0
	historyEntriesTotal.WithLabelValues(string(action)).Inc()
	m.logger.Debug("history seeded", slog.String("action", string(action)))
	return nil
}

// AddEntry records state after a write.
//
// Description:
//
//	Drops any redo entries after the cursor, appends a deep copy of state,
//	and moves the cursor to it. When the cap is reached the oldest entry
//	is evicted. Calls made during a restore are ignored.
//
// Inputs:
//   - action: What produced the state.
//   - state: The post-write value. Copied.
//   - payload: Optional metadata. Copied.
//
// Outputs:
//   - error: Non-nil if state or payload cannot be copied; history is unchanged.
func (m *Manager) AddEntry(action Action, state, payload any) error {
	if m.restoring {
		return nil
	}
	e, err := m.newEntry(action, state, payload)
	if err != nil {
		return err
	}

	if future := m.entries.Len() - 1 - m.current; future > 0 {
		m.entries.TruncateNewest(future)
		historyTruncatedTotal.Add(float64(future))
	}
	if m.entries.Push(e) {
		historyEvictionsTotal.Inc()
	}
	m.current = m.entries.Len() - 1
	historyEntriesTotal.WithLabelValues(string(action)).Inc()
	return nil
}

// Record appends state only if it differs from the entry at the cursor.
//
// Description:
//
//	Compares with diff.Diff so writes that leave the state unchanged never
//	reach the history. Deletion detection is always on, whatever opts say,
//	since a removed key is a change worth undoing.
//
// Outputs:
//   - bool: True if an entry was appended.
//   - error: Non-nil if the state could not be copied.
func (m *Manager) Record(action Action, state, payload any, opts ...diff.Option) (bool, error) {
	if m.restoring {
		return false, nil
	}
	if cur, ok := m.entries.At(m.current); ok {
		opts = append(opts[:len(opts):len(opts)], diff.WithDetectDeletions(true))
		if !diff.HasChanges(cur.State, state, opts...) {
			historySkippedTotal.Inc()
			return false, nil
		}
	}
	if err := m.AddEntry(action, state, payload); err != nil {
		return false, err
	}
	return true, nil
}

// Undo moves one entry back and restores it.
//
// Outputs:
//   - bool: False at the oldest entry or if the restore failed.
func (m *Manager) Undo() bool {
	if !m.CanUndo() {
		historyNavigationTotal.WithLabelValues("undo", "boundary").Inc()
		return false
	}
	return m.moveTo("undo", m.current-1)
}

// Redo moves one entry forward and restores it.
//
// Outputs:
//   - bool: False at the newest entry or if the restore failed.
func (m *Manager) Redo() bool {
	if !m.CanRedo() {
		historyNavigationTotal.WithLabelValues("redo", "boundary").Inc()
		return false
	}
	return m.moveTo("redo", m.current+1)
}

// JumpTo moves the cursor to index and restores that entry.
//
// Outputs:
//   - bool: False if index is out of range or the restore failed.
func (m *Manager) JumpTo(index int) bool {
	if index < 0 || index >= m.entries.Len() {
		historyNavigationTotal.WithLabelValues("jump", "boundary").Inc()
		return false
	}
	return m.moveTo("jump", index)
}

func (m *Manager) moveTo(op string, index int) bool {
	e, _ := m.entries.At(index)
	if m.restore != nil {
		state, err := snapshot.Clone(e.State)
		if err == nil {
			m.restoring = true
			err = m.restore(state)
			m.restoring = false
		}
		if err != nil {
			historyNavigationTotal.WithLabelValues(op, "error").Inc()
			m.logger.Warn("history restore failed",
				slog.String("operation", op),
				slog.Int("index", index),
				slog.String("error", err.Error()),
			)
			return false
		}
	}
	m.current = index
	historyNavigationTotal.WithLabelValues(op, "ok").Inc()
	m.logger.Debug("history restored",
		slog.String("operation", op),
		slog.Int("index", index),
		slog.String("action", string(e.Action)),
	)
	return true
}

// CanUndo reports whether an older entry exists.
func (m *Manager) CanUndo() bool {
	return m.current > 0
}

// CanRedo reports whether a newer entry exists.
func (m *Manager) CanRedo() bool {
	return m.current < m.entries.Len()-1
}

// CurrentIndex returns the cursor position.
func (m *Manager) CurrentIndex() int {
	return m.current
}

// Len returns the number of retained entries.
func (m *Manager) Len() int {
	return m.entries.Len()
}

// Restoring reports whether a restore is in progress.
func (m *Manager) Restoring() bool {
	return m.restoring
}

// History returns deep copies of all entries, oldest first.
func (m *Manager) History() []Entry {
	stored := m.entries.Slice()
	out := make([]Entry, len(stored))
	for i, e := range stored {
		out[i] = e
		out[i].State = snapshot.MustClone(e.State)
		out[i].Payload = snapshot.MustClone(e.Payload)
	}
	return out
}

func (m *Manager) newEntry(action Action, state, payload any) (Entry, error) {
	s, err := snapshot.Clone(state)
	if err != nil {
		return Entry{}, fmt.Errorf("snapshot %s state: %w", action, err)
	}
	p, err := snapshot.Clone(payload)
	if err != nil {
		return Entry{}, fmt.Errorf("snapshot %s payload: %w", action, err)
	}
	return Entry{
		ID:        uuid.NewString(),
		State:     s,
		Timestamp: m.now(),
		Action:    action,
		Payload:   p,
	}, nil
}
