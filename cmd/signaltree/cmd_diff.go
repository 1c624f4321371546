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
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/signaltree/pkg/ux"
	"github.com/AleutianAI/signaltree/services/tree/diff"
)

type diffFlags struct {
	detectDeletions  bool
	ignoreArrayOrder bool
	maxDepth         int
	output           string
	exitCode         bool
}

// errChanged is returned by diff --exit-code when the documents differ.
var errChanged = errors.New("documents differ")

func newDiffCmd(a *app) *cobra.Command {
	f := &diffFlags{}
	cmd := &cobra.Command{
		Use:   "diff OLD NEW",
		Short: "Show structural changes between two documents",
		Long: `Compare two JSON or YAML documents and list the changes that turn OLD
into NEW. Defaults come from the diff section of the config file.

Output lines:
  + path: value        added
  ~ path: old -> new   updated leaf
  - path: old          deleted (with --detect-deletions)
  ! path: old -> new   shape changed`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, span := tracer.Start(cmd.Context(), "cli.diff")
			defer span.End()

			docs, err := loadDocuments(ctx, args[0], args[1])
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "load failed")
				return err
			}

			opts := a.cfg.DiffOptions()
			if cmd.Flags().Changed("detect-deletions") {
				opts = append(opts, diff.WithDetectDeletions(f.detectDeletions))
			}
			if cmd.Flags().Changed("ignore-array-order") {
				opts = append(opts, diff.WithIgnoreArrayOrder(f.ignoreArrayOrder))
			}
			if cmd.Flags().Changed("max-depth") {
				if f.maxDepth < 1 {
					return fmt.Errorf("--max-depth must be at least 1, got %d", f.maxDepth)
				}
				opts = append(opts, diff.WithMaxDepth(f.maxDepth))
			}

			res := diff.Diff(docs[0], docs[1], opts...)
			span.SetAttributes(
				attribute.Bool("has_changes", res.HasChanges),
				attribute.Int("changes", len(res.Changes)),
			)
			a.logger.Debug("diff computed", "old", args[0], "new", args[1], "changes", len(res.Changes))

			if err := printDiff(cmd, a.color, res, f.output); err != nil {
				return err
			}
			if f.exitCode && res.HasChanges {
				span.AddEvent("changed", trace.WithAttributes(attribute.Int("changes", len(res.Changes))))
				return errChanged
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&f.detectDeletions, "detect-deletions", false, "report keys and indices missing from NEW")
	cmd.Flags().BoolVar(&f.ignoreArrayOrder, "ignore-array-order", false, "compare arrays as multisets")
	cmd.Flags().IntVar(&f.maxDepth, "max-depth", diff.DefaultMaxDepth, "stop descending below this depth")
	cmd.Flags().StringVarP(&f.output, "output", "o", "text", "output format (text, json)")
	cmd.Flags().BoolVar(&f.exitCode, "exit-code", false, "fail when the documents differ")
	return cmd
}

func printDiff(cmd *cobra.Command, color ux.ColorMode, res diff.Result, format string) error {
	switch format {
	case "json":
		return writeDiffJSON(cmd.OutOrStdout(), res)
	case "text", "":
		newPrinter(cmd.OutOrStdout(), color).changes(res)
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
