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
	"log/slog"

	"github.com/AleutianAI/signaltree/services/tree/config"
	"github.com/AleutianAI/signaltree/services/tree/diff"
	"github.com/AleutianAI/signaltree/services/tree/entities"
	"github.com/AleutianAI/signaltree/services/tree/history"
	"github.com/AleutianAI/signaltree/services/tree/signal"
)

type settings struct {
	pathIndex  bool
	timeTravel *history.Config
	equal      signal.EqualFunc[any]
	logger     *slog.Logger
	diffOpts   []diff.Option
	missing    entities.MissingPolicy
	hooks      []WriteHook
}

// Option configures a Tree. Options are applied in order.
type Option func(*settings)

// WithPathIndex caches materialized nodes in a path index so repeated
// deep lookups skip the walk.
func WithPathIndex() Option {
	return func(s *settings) { s.pathIndex = true }
}

// WithTimeTravel records writes into a bounded undo/redo history.
// A config with Enabled false turns time travel off.
func WithTimeTravel(cfg history.Config) Option {
	return func(s *settings) {
		c := cfg
		s.timeTravel = &c
	}
}

// WithLogger sets the logger. Nil is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDiffOptions sets the options time travel uses to detect changes.
func WithDiffOptions(opts ...diff.Option) Option {
	return func(s *settings) { s.diffOpts = append(s.diffOpts, opts...) }
}

// WithEqual replaces the leaf equality gate. Nil is ignored.
func WithEqual(eq signal.EqualFunc[any]) Option {
	return func(s *settings) {
		if eq != nil {
			s.equal = eq
		}
	}
}

// WithMissingPolicy sets the default policy for collections bound with
// BindEntities.
func WithMissingPolicy(p entities.MissingPolicy) Option {
	return func(s *settings) { s.missing = p }
}

// WithWriteHook runs h after every outermost write that changed the tree.
func WithWriteHook(h WriteHook) Option {
	return func(s *settings) {
		if h != nil {
			s.hooks = append(s.hooks, h)
		}
	}
}

// FromConfig turns a loaded configuration into options.
func FromConfig(cfg config.Config) []Option {
	opts := []Option{
		WithDiffOptions(cfg.DiffOptions()...),
		WithMissingPolicy(cfg.MissingPolicy()),
		WithTimeTravel(cfg.TimeTravel),
	}
	if cfg.PathIndex.Enabled {
		opts = append(opts, WithPathIndex())
	}
	return opts
}
