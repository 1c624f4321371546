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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/signaltree/services/tree/diff"
)

func newPatchCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "patch DOC CHANGES",
		Short: "Apply a JSON change list to a document",
		Long: `Apply the changes in CHANGES to DOC and print the result.

CHANGES is either a JSON array of change records or the output of
"signaltree diff -o json". Use "-" to read CHANGES from stdin.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, span := tracer.Start(cmd.Context(), "cli.patch")
			defer span.End()

			docs, err := loadDocuments(ctx, args[0])
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "load failed")
				return err
			}
			changes, err := readChanges(cmd.InOrStdin(), args[1])
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "read changes failed")
				return err
			}
			span.SetAttributes(attribute.Int("changes", len(changes)))

			out, err := diff.Apply(docs[0], changes)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "apply failed")
				return err
			}
			a.logger.Debug("patch applied", "doc", args[0], "changes", len(changes))
			return writeDocument(cmd.OutOrStdout(), out, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "json", "output format (json, yaml)")
	return cmd
}

// readChanges accepts a bare change array or a diff JSON object.
func readChanges(stdin io.Reader, path string) ([]diff.Change, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(io.LimitReader(stdin, maxDocumentSize+1))
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read changes: %w", err)
	}
	if len(data) > maxDocumentSize {
		return nil, fmt.Errorf("changes larger than %d bytes", maxDocumentSize)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapped diffJSON
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("parse changes: %w", err)
		}
		return wrapped.Changes, nil
	}
	var changes []diff.Change
	if err := json.Unmarshal(trimmed, &changes); err != nil {
		return nil, fmt.Errorf("parse changes: %w", err)
	}
	return changes, nil
}
