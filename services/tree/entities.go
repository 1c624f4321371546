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
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/go-viper/mapstructure/v2"

	"github.com/AleutianAI/signaltree/services/tree/entities"
	"github.com/AleutianAI/signaltree/services/tree/treepath"
)

// BindEntities exposes the array at path as an entity collection.
//
// Description:
//
//	The collection and the tree stay in sync both ways. Each collection
//	mutation writes the full record list back to path as one tree write,
//	so it is recorded by time travel and can be undone. Tree writes that
//	change the array (an undo, or a direct SetAt) reload the collection.
//
//	If path does not exist its parent must, and an empty array is
//	created there. Elements already in the array are loaded as records;
//	values that are not already an E are decoded into one with
//	mapstructure, matching json tags.
//
// Inputs:
//   - t: The tree. Must not be nil.
//   - path: Location of the array.
//   - opts: Collection options. The tree's scheduler, logger and missing
//     policy are applied first and can be overridden.
//
// Outputs:
//   - *entities.Collection[E, K]: The bound collection.
//   - error: ErrNotContainer if path holds something other than an array,
//     or a load error for records that are duplicated or have no id.
//
// Thread Safety: NOT safe for concurrent use.
func BindEntities[E any, K comparable](t *Tree, path treepath.Path, opts ...entities.Option[E, K]) (*entities.Collection[E, K], error) {
	if t == nil {
		return nil, fmt.Errorf("BindEntities: tree must not be nil")
	}
	base := []entities.Option[E, K]{
		entities.WithScheduler[E, K](t.sched),
		entities.WithLogger[E, K](t.logger.With(slog.String("entities", path.String()))),
		entities.WithMissingPolicy[E, K](t.missing),
	}
	c := entities.New[E, K](append(base, opts...)...)

	raw, err := t.Unwrap(path)
	if errors.Is(err, ErrPathNotFound) {
		if err := t.SetAt(path, []any{}); err != nil {
			return nil, err
		}
		raw, err = t.Unwrap(path)
	}
	if err != nil {
		return nil, err
	}
	records, err := decodeRecords[E](raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := c.Load(records...); err != nil {
		return nil, err
	}

	b := &entityBinding[E, K]{t: t, c: c, path: path.Clone()}
	c.Tap(entities.TapHandlers[E, K]{OnChange: b.pushToTree})
	t.Subscribe(b.pullFromTree)
	return c, nil
}

type entityBinding[E any, K comparable] struct {
	t       *Tree
	c       *entities.Collection[E, K]
	path    treepath.Path
	syncing bool
}

func (b *entityBinding[E, K]) pushToTree() {
	if b.syncing {
		return
	}
	b.syncing = true
	defer func() { b.syncing = false }()

	records := b.c.Snapshot()
	out := make([]any, len(records))
	for i, e := range records {
		out[i] = e
	}
	if err := b.t.SetAt(b.path, out); err != nil {
		b.t.logger.Warn("entity write-back failed",
			slog.String("path", b.path.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (b *entityBinding[E, K]) pullFromTree() {
	if b.syncing {
		return
	}
	raw, err := b.t.Unwrap(b.path)
	if err != nil {
		return
	}
	records, err := decodeRecords[E](raw)
	if err != nil {
		b.t.logger.Warn("entity reload failed",
			slog.String("path", b.path.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if reflect.DeepEqual(records, b.c.Snapshot()) {
		return
	}

	b.syncing = true
	defer func() { b.syncing = false }()
	if err := b.c.Load(records...); err != nil {
		b.t.logger.Warn("entity reload failed",
			slog.String("path", b.path.String()),
			slog.String("error", err.Error()),
		)
	}
}

// decodeRecords converts an array value into records.
func decodeRecords[E any](raw any) ([]E, error) {
	arr, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: entities need an array, found %s", ErrNotContainer, KindOf(raw))
	}
	out := make([]E, 0, len(arr))
	for i, v := range arr {
		if e, ok := v.(E); ok {
			out = append(out, e)
			continue
		}
		var e E
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &e,
			TagName:          "json",
			WeaklyTypedInput: true,
		})
		if err != nil {
			return nil, err
		}
		if err := dec.Decode(v); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, e)
	}
	return out, nil
}
