// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diff

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/signaltree/services/tree/signal"
	"github.com/AleutianAI/signaltree/services/tree/treepath"
)

// ErrInvalidChange is returned by Apply and by JSON decoding of malformed
// change records.
var ErrInvalidChange = errors.New("invalid change")

// -----------------------------------------------------------------------------
// Kind
// -----------------------------------------------------------------------------

// Kind classifies a change record.
type Kind int

const (
	// KindAdd marks a key or index absent from the current value.
	KindAdd Kind = iota
	// KindUpdate marks a leaf whose value changed.
	KindUpdate
	// KindDelete marks a key or index absent from the updated value.
	KindDelete
	// KindReplace marks a subtree whose shape changed (object vs array vs leaf).
	KindReplace
)

// String returns "add", "update", "delete" or "replace".
func (k Kind) String() string {
	switch k {
	case KindAdd:
		return "add"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	case KindReplace:
		return "replace"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "add":
		return KindAdd, nil
	case "update":
		return KindUpdate, nil
	case "delete":
		return KindDelete, nil
	case "replace":
		return KindReplace, nil
	}
	return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidChange, s)
}

// -----------------------------------------------------------------------------
// Change and Result
// -----------------------------------------------------------------------------

// Change is a single difference between two values.
type Change struct {
	Kind     Kind
	Path     treepath.Path
	Value    any
	OldValue any
}

// String renders the change for humans, e.g. "update a.b: 1 -> 2".
func (c Change) String() string {
	p := c.Path.String()
	if p == "" {
		p = "<root>"
	}
	switch c.Kind {
	case KindAdd:
		return fmt.Sprintf("add %s: %v", p, c.Value)
	case KindDelete:
		return fmt.Sprintf("delete %s: %v", p, c.OldValue)
	default:
		return fmt.Sprintf("%s %s: %v -> %v", c.Kind, p, c.OldValue, c.Value)
	}
}

type changeJSON struct {
	Kind     string `json:"kind"`
	Path     []any  `json:"path"`
	Value    any    `json:"value,omitempty"`
	OldValue any    `json:"oldValue,omitempty"`
}

// MarshalJSON encodes the path as an array of keys and indexes.
func (c Change) MarshalJSON() ([]byte, error) {
	return json.Marshal(changeJSON{
		Kind:     c.Kind.String(),
		Path:     c.Path.Values(),
		Value:    c.Value,
		OldValue: c.OldValue,
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (c *Change) UnmarshalJSON(data []byte) error {
	var raw changeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidChange, err)
	}
	kind, err := ParseKind(raw.Kind)
	if err != nil {
		return err
	}
	p, err := treepath.FromValues(raw.Path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidChange, err)
	}
	*c = Change{Kind: kind, Path: p, Value: raw.Value, OldValue: raw.OldValue}
	return nil
}

// Result is the ordered output of Diff.
type Result struct {
	Changes    []Change `json:"changes"`
	HasChanges bool     `json:"hasChanges"`
}

// Paths returns the path of every change in order.
func (r Result) Paths() []treepath.Path {
	out := make([]treepath.Path, len(r.Changes))
	for i, c := range r.Changes {
		out[i] = c.Path
	}
	return out
}

// CountByKind tallies changes per kind.
func (r Result) CountByKind() map[Kind]int {
	out := make(map[Kind]int, 4)
	for _, c := range r.Changes {
		out[c.Kind]++
	}
	return out
}

// -----------------------------------------------------------------------------
// Options
// -----------------------------------------------------------------------------

// DefaultMaxDepth bounds recursion when no depth is configured.
const DefaultMaxDepth = 100

// Options controls a diff.
type Options struct {
	// MaxDepth stops descent below this depth. Changes deeper than the
	// cutoff are silently not reported; this is a termination guard, not a
	// correctness feature.
	MaxDepth int

	// DetectDeletions reports keys and indexes missing from the updated value.
	DetectDeletions bool

	// IgnoreArrayOrder compares arrays as sets of serialized elements.
	// Distinct elements that serialize identically collapse into one, and
	// moves are never reported.
	IgnoreArrayOrder bool

	// Equal compares leaves. Defaults to signal.Identical.
	Equal func(a, b any) bool
}

// DefaultOptions returns the defaults: depth 100, no deletion detection,
// ordered arrays and identity-like equality.
func DefaultOptions() Options {
	return Options{
		MaxDepth: DefaultMaxDepth,
		Equal:    signal.Identical,
	}
}

// Option mutates Options.
type Option func(*Options)

// WithMaxDepth sets the recursion limit. Values <= 0 keep the default.
func WithMaxDepth(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxDepth = n
		}
	}
}

// WithDetectDeletions toggles deletion reporting.
func WithDetectDeletions(on bool) Option {
	return func(o *Options) { o.DetectDeletions = on }
}

// WithIgnoreArrayOrder toggles set-like array comparison.
func WithIgnoreArrayOrder(on bool) Option {
	return func(o *Options) { o.IgnoreArrayOrder = on }
}

// WithEqual replaces the leaf equality function.
func WithEqual(eq func(a, b any) bool) Option {
	return func(o *Options) {
		if eq != nil {
			o.Equal = eq
		}
	}
}

// WithOptions copies a whole Options value, keeping defaults for zero fields.
func WithOptions(in Options) Option {
	return func(o *Options) {
		if in.MaxDepth > 0 {
			o.MaxDepth = in.MaxDepth
		}
		o.DetectDeletions = in.DetectDeletions
		o.IgnoreArrayOrder = in.IgnoreArrayOrder
		if in.Equal != nil {
			o.Equal = in.Equal
		}
	}
}
