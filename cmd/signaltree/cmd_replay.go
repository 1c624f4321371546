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
	"fmt"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/signaltree/services/tree"
	"github.com/AleutianAI/signaltree/services/tree/treepath"
)

type replayFlags struct {
	undo     int
	selector string
	entities string
	output   string
}

func newReplayCmd(a *app) *cobra.Command {
	f := &replayFlags{}
	cmd := &cobra.Command{
		Use:   "replay DOC [DOC...]",
		Short: "Write documents into a time-travel tree and show its history",
		Long: `Create a tree from the first document, then set each following document
as the new state. Prints the recorded history with the cursor marked,
followed by the resulting state.

Time travel is always on for replay. The history cap comes from the
time_travel section of the config file.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, span := tracer.Start(cmd.Context(), "cli.replay")
			defer span.End()
			span.SetAttributes(attribute.Int("documents", len(args)))

			docs, err := loadDocuments(ctx, args...)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "load failed")
				return err
			}

			t, err := replay(a, docs, f.undo)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "replay failed")
				return err
			}

			out := cmd.OutOrStdout()
			p := newPrinter(out, a.color)

			if f.entities != "" {
				if err := printEntities(p, t, f.entities); err != nil {
					return err
				}
			}

			fmt.Fprintln(out, p.render(p.theme.Title, "History"))
			p.history(t.History(), t.CurrentIndex())

			state := t.Get()
			if f.selector != "" {
				n, err := t.Select(f.selector)
				if err != nil {
					return fmt.Errorf("select %q: %w", f.selector, err)
				}
				state = n.Get()
			}
			fmt.Fprintln(out, p.render(p.theme.Title, "State"))
			return writeDocument(out, state, f.output)
		},
	}

	cmd.Flags().IntVar(&f.undo, "undo", 0, "undo this many steps after replaying")
	cmd.Flags().StringVar(&f.selector, "select", "", "print only the value at this path")
	cmd.Flags().StringVar(&f.entities, "entities", "", "bind an entity collection to the array at this path and print its ids")
	cmd.Flags().StringVarP(&f.output, "output", "o", "json", "state format (json, yaml)")
	return cmd
}

// replay builds a time-travel tree from docs[0] and sets each later doc.
func replay(a *app, docs []any, undo int) (*tree.Tree, error) {
	if undo < 0 {
		return nil, fmt.Errorf("--undo must not be negative, got %d", undo)
	}
	tt := a.cfg.TimeTravel
	tt.Enabled = true

	opts := append(tree.FromConfig(a.cfg),
		tree.WithTimeTravel(tt),
		tree.WithLogger(a.logger.Slog()),
	)
	t, err := tree.New(docs[0], opts...)
	if err != nil {
		return nil, fmt.Errorf("create tree: %w", err)
	}
	for i, doc := range docs[1:] {
		if err := t.Set(doc); err != nil {
			return nil, fmt.Errorf("document %d: %w", i+2, err)
		}
	}
	for i := 0; i < undo; i++ {
		if !t.Undo() {
			a.logger.Warn("undo stopped at the oldest entry", "requested", undo, "applied", i)
			break
		}
	}
	return t, nil
}

func printEntities(p *printer, t *tree.Tree, path string) error {
	at, err := treepath.Parse(path)
	if err != nil {
		return err
	}
	c, err := tree.BindEntities[map[string]any, any](t, at)
	if err != nil {
		return fmt.Errorf("bind entities at %q: %w", path, err)
	}
	fmt.Fprintln(p.w, p.render(p.theme.Title, "Entities"))
	fmt.Fprintf(p.w, "  %s: %d records\n", path, c.Count().Get())
	for _, id := range c.IDs().Get() {
		fmt.Fprintf(p.w, "  - %v\n", id)
	}
	return nil
}
