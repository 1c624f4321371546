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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// maxDocumentSize bounds a single input file (16MB).
const maxDocumentSize = 16 << 20

var tracer = otel.Tracer("signaltree.cli")

// loadDocuments reads every path concurrently, preserving order.
func loadDocuments(ctx context.Context, paths ...string) ([]any, error) {
	ctx, span := tracer.Start(ctx, "cli.loadDocuments",
		trace.WithAttributes(attribute.Int("count", len(paths))),
	)
	defer span.End()

	docs := make([]any, len(paths))
	g, gCtx := errgroup.WithContext(ctx)
	for i, p := range paths {
		g.Go(func() error {
			doc, err := loadDocument(gCtx, p)
			if err != nil {
				return err
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return docs, nil
}

// loadDocument reads a JSON or YAML file, chosen by extension.
func loadDocument(ctx context.Context, path string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) > maxDocumentSize {
		return nil, fmt.Errorf("%s: larger than %d bytes", path, maxDocumentSize)
	}
	doc, err := decodeDocument(data, isYAML(path))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func decodeDocument(data []byte, asYAML bool) (any, error) {
	var doc any
	if asYAML {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		return normalizeYAML(doc), nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// normalizeYAML turns the map[any]any that yaml produces for non-string
// keys into map[string]any so the tree sees objects.
func normalizeYAML(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, child := range x {
			x[k] = normalizeYAML(child)
		}
		return x
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, child := range x {
			out[fmt.Sprint(k)] = normalizeYAML(child)
		}
		return out
	case []any:
		for i, child := range x {
			x[i] = normalizeYAML(child)
		}
		return x
	default:
		return v
	}
}

// writeDocument renders v as indented JSON or YAML.
func writeDocument(w io.Writer, v any, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "json", "text", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
