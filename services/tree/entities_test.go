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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/signaltree/services/tree/entities"
	"github.com/AleutianAI/signaltree/services/tree/history"
	"github.com/AleutianAI/signaltree/services/tree/treepath"
)

type task struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

func TestBindEntities_LoadsExistingArray(t *testing.T) {
	tr, err := New(map[string]any{
		"tasks": []any{
			map[string]any{"id": 1, "title": "write"},
			map[string]any{"id": 2.0, "title": "test"},
		},
	})
	require.NoError(t, err)

	c, err := BindEntities[task, int](tr, treepath.New("tasks"))
	require.NoError(t, err)
	assert.Equal(t, []task{{1, "write"}, {2, "test"}}, c.Snapshot())
}

func TestBindEntities_CreatesMissingArray(t *testing.T) {
	tr, err := New(map[string]any{})
	require.NoError(t, err)

	c, err := BindEntities[task, int](tr, treepath.New("tasks"))
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())

	got, err := tr.Unwrap(treepath.New("tasks"))
	require.NoError(t, err)
	assert.Equal(t, []any{}, got)
}

func TestBindEntities_RejectsLeaf(t *testing.T) {
	tr, err := New(map[string]any{"tasks": "nope"})
	require.NoError(t, err)

	_, err = BindEntities[task, int](tr, treepath.New("tasks"))
	assert.ErrorIs(t, err, ErrNotContainer)
}

func TestBindEntities_MutationsReachTree(t *testing.T) {
	tr, err := New(map[string]any{"tasks": []any{}})
	require.NoError(t, err)
	c, err := BindEntities[task, int](tr, treepath.New("tasks"))
	require.NoError(t, err)

	calls := counter(tr)
	require.NoError(t, c.AddOne(task{ID: 1, Title: "a"}))
	require.NoError(t, c.UpdateOne(1, entities.Merge[task](map[string]any{"title": "b"})))

	got, err := tr.Unwrap(treepath.New("tasks"))
	require.NoError(t, err)
	assert.Equal(t, []any{task{ID: 1, Title: "b"}}, got)
	assert.Equal(t, 2, *calls)
}

func TestBindEntities_TreeWritesReachCollection(t *testing.T) {
	tr, err := New(map[string]any{"tasks": []any{}})
	require.NoError(t, err)
	c, err := BindEntities[task, int](tr, treepath.New("tasks"))
	require.NoError(t, err)

	require.NoError(t, tr.SetAt(treepath.New("tasks"), []any{
		map[string]any{"id": 7, "title": "from tree"},
	}))
	e, ok := c.Get(7)
	require.True(t, ok)
	assert.Equal(t, "from tree", e.Title)
}

func TestBindEntities_Undo(t *testing.T) {
	tr, err := New(map[string]any{
		"tasks": []any{map[string]any{"id": 1, "title": "a"}},
	}, WithTimeTravel(history.DefaultConfig()))
	require.NoError(t, err)

	c, err := BindEntities[task, int](tr, treepath.New("tasks"))
	require.NoError(t, err)
	require.Len(t, tr.History(), 1, "binding an existing array records nothing")

	require.NoError(t, c.AddOne(task{ID: 2, Title: "b"}))
	assert.Len(t, tr.History(), 2)
	assert.Equal(t, 2, c.Count().Get())

	require.True(t, tr.Undo())
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get(2)
	assert.False(t, ok)
	assert.Len(t, tr.History(), 2, "reloading from an undo is not recorded")

	require.True(t, tr.Redo())
	assert.Equal(t, []task{{1, "a"}, {2, "b"}}, c.Snapshot())
}
