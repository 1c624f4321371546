// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package entities

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/signaltree/services/tree/signal"
)

type todo struct {
	ID     int    `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

func newTodos(opts ...Option[todo, int]) *Collection[todo, int] {
	return New[todo, int](opts...)
}

func TestCollection_Uniqueness(t *testing.T) {
	var reported []error
	c := newTodos(WithOnError[todo, int](func(err error) { reported = append(reported, err) }))

	require.NoError(t, c.AddOne(todo{ID: 1, Title: "a"}))
	err := c.AddOne(todo{ID: 1, Title: "b"})
	assert.ErrorIs(t, err, ErrDuplicateEntity)
	assert.Equal(t, 1, c.Count().Get())
	require.Len(t, reported, 1)
	assert.ErrorIs(t, reported[0], ErrDuplicateEntity)

	stored, _ := c.Get(1)
	assert.Equal(t, "a", stored.Title, "duplicate add must not overwrite")
}

func TestCollection_AddManyAggregates(t *testing.T) {
	c := newTodos()
	err := c.AddMany(todo{ID: 1}, todo{ID: 2}, todo{ID: 1}, todo{ID: 3}, todo{ID: 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateEntity)
	assert.Equal(t, []int{1, 2, 3}, c.IDs().Get())
}

func TestCollection_UpsertIdempotent(t *testing.T) {
	c := newTodos()
	e := todo{ID: 7, Title: "same", Status: "open"}

	require.NoError(t, c.UpsertOne(e))
	require.NoError(t, c.UpsertOne(e))
	assert.Equal(t, 1, c.Count().Get())
	got, ok := c.Get(7)
	require.True(t, ok)
	assert.Equal(t, e, got)

	require.NoError(t, c.UpsertOne(todo{ID: 7, Title: "changed"}))
	got, _ = c.Get(7)
	assert.Equal(t, "changed", got.Title)
}

func TestCollection_UpdateWhereAndQueryReactivity(t *testing.T) {
	c := newTodos()
	require.NoError(t, c.AddMany(
		todo{ID: 1, Title: "a", Status: "open"},
		todo{ID: 2, Title: "b", Status: "closed"},
		todo{ID: 3, Title: "c", Status: "open"},
	))

	done := c.Where(func(t todo) bool { return t.Status == "x" })
	assert.Empty(t, done.Get())

	n := c.UpdateWhere(func(t todo) bool { return t.Status == "open" }, Merge[todo](map[string]any{"status": "x"}))
	assert.Equal(t, 2, n)

	assert.Equal(t, []todo{
		{ID: 1, Title: "a", Status: "x"},
		{ID: 3, Title: "c", Status: "x"},
	}, done.Get())
}

func TestCollection_QueriesNotifySubscribers(t *testing.T) {
	c := newTodos()
	count := c.Count()
	var seen []int
	unsub := count.Subscribe(func() { seen = append(seen, count.Get()) })
	defer unsub()

	require.NoError(t, c.AddOne(todo{ID: 1}))
	require.NoError(t, c.AddOne(todo{ID: 2}))
	require.NoError(t, c.UpdateOne(1, Func(func(t todo) todo { t.Title = "x"; return t })))
	require.NoError(t, c.RemoveOne(2))

	assert.Equal(t, []int{1, 2, 1}, seen, "updates do not move the count")
}

func TestCollection_UpdateMissingPolicy(t *testing.T) {
	patch := Func(func(t todo) todo { t.Title = "x"; return t })

	c := newTodos()
	assert.NoError(t, c.UpdateOne(42, patch), "missing id is a benign no-op by default")

	var reported error
	strict := newTodos(
		WithMissingPolicy[todo, int](MissingReport),
		WithOnError[todo, int](func(err error) { reported = err }),
	)
	err := strict.UpdateOne(42, patch)
	assert.ErrorIs(t, err, ErrEntityNotFound)
	assert.ErrorIs(t, reported, ErrEntityNotFound)
}

func TestCollection_Remove(t *testing.T) {
	c := newTodos()
	require.NoError(t, c.AddMany(todo{ID: 1, Status: "a"}, todo{ID: 2, Status: "b"}, todo{ID: 3, Status: "a"}))

	assert.NoError(t, c.RemoveOne(99))
	assert.Equal(t, 2, c.RemoveWhere(func(t todo) bool { return t.Status == "a" }))
	assert.Equal(t, []int{2}, c.IDs().Get())
	assert.False(t, c.Has(1).Get())
	assert.True(t, c.Has(2).Get())

	require.NoError(t, c.AddMany(todo{ID: 4}, todo{ID: 5}))
	require.NoError(t, c.RemoveMany(4, 99))
	assert.Equal(t, []int{2, 5}, c.IDs().Get())

	assert.Equal(t, 2, c.Clear())
	assert.Equal(t, 0, c.Count().Get())
}

func TestCollection_FindAndByID(t *testing.T) {
	c := newTodos()
	byID := c.ByID(2)
	first := c.Find(func(t todo) bool { return t.Status == "open" })
	assert.False(t, byID.Get().Found)
	assert.False(t, first.Get().Found)

	require.NoError(t, c.AddMany(todo{ID: 1, Status: "closed"}, todo{ID: 2, Status: "open"}, todo{ID: 3, Status: "open"}))
	assert.True(t, byID.Get().Found)
	assert.Equal(t, 2, byID.Get().Value.ID)
	assert.Equal(t, 2, first.Get().Value.ID)
}

func TestCollection_Tap(t *testing.T) {
	c := newTodos()
	var events []string
	unregister := c.Tap(TapHandlers[todo, int]{
		OnAdd:    func(id int, _ todo) { events = append(events, "add") },
		OnUpdate: func(id int, prev, next todo) { events = append(events, "update:"+prev.Title+"->"+next.Title) },
		OnRemove: func(id int, _ todo) { events = append(events, "remove") },
		OnChange: func() { events = append(events, "change") },
	})

	require.NoError(t, c.AddOne(todo{ID: 1, Title: "a"}))
	require.NoError(t, c.UpsertOne(todo{ID: 1, Title: "b"}))
	require.NoError(t, c.RemoveOne(1))
	require.NoError(t, c.RemoveOne(1))

	assert.Equal(t, []string{"add", "change", "update:a->b", "change", "remove", "change"}, events)

	unregister()
	require.NoError(t, c.AddOne(todo{ID: 2}))
	assert.Len(t, events, 6)
}

func TestCollection_InterceptBlockAndTransform(t *testing.T) {
	c := newTodos()
	unregister := c.Intercept(InterceptHandlers[todo, int]{
		OnAdd: func(ctx *InterceptContext[todo, int]) {
			if ctx.Value.Title == "" {
				ctx.Block("title required")
				return
			}
			v := ctx.Value
			v.Status = "new"
			ctx.Transform(v)
		},
		OnRemove: func(ctx *InterceptContext[todo, int]) {
			if ctx.Value.Status == "locked" {
				ctx.Block("locked")
			}
		},
	})

	err := c.AddOne(todo{ID: 1})
	assert.ErrorIs(t, err, ErrBlocked)
	assert.Equal(t, 0, c.Count().Get())

	require.NoError(t, c.AddOne(todo{ID: 2, Title: "ok"}))
	got, _ := c.Get(2)
	assert.Equal(t, "new", got.Status)

	require.NoError(t, c.UpdateOne(2, Merge[todo](map[string]any{"status": "locked"})))
	assert.ErrorIs(t, c.RemoveOne(2), ErrBlocked)
	assert.True(t, c.Has(2).Get())

	unregister()
	require.NoError(t, c.RemoveOne(2))
	require.NoError(t, c.AddOne(todo{ID: 3}))
}

func TestCollection_SetAllAndLoad(t *testing.T) {
	c := newTodos()
	require.NoError(t, c.AddMany(todo{ID: 1}, todo{ID: 2}, todo{ID: 3}))

	require.NoError(t, c.SetAll(todo{ID: 3, Title: "c"}, todo{ID: 4}, todo{ID: 1}))
	assert.Equal(t, []int{3, 4, 1}, c.IDs().Get())

	blocked := 0
	c.Intercept(InterceptHandlers[todo, int]{
		OnAdd: func(ctx *InterceptContext[todo, int]) { blocked++; ctx.Block("no") },
	})
	changes, added, removed := 0, 0, 0
	c.Tap(TapHandlers[todo, int]{
		OnAdd:    func(int, todo) { added++ },
		OnRemove: func(int, todo) { removed++ },
		OnChange: func() { changes++ },
	})

	require.NoError(t, c.Load(todo{ID: 9}, todo{ID: 8}))
	assert.Equal(t, []int{9, 8}, c.IDs().Get())
	assert.Zero(t, blocked, "load bypasses interceptors")
	assert.Zero(t, added, "load skips per-record taps")
	assert.Zero(t, removed, "load skips per-record taps")
	assert.Equal(t, 1, changes, "OnChange still fires once")

	assert.ErrorIs(t, c.Load(todo{ID: 1}, todo{ID: 1}), ErrDuplicateEntity)
}

func TestCollection_BatchedNotifications(t *testing.T) {
	sched := signal.NewScheduler()
	c := newTodos(WithScheduler[todo, int](sched))
	all := c.All()
	calls := 0
	defer all.Subscribe(func() { calls++ })()

	sched.Batch(func() {
		_ = c.AddOne(todo{ID: 1})
		_ = c.AddOne(todo{ID: 2})
		_ = c.AddOne(todo{ID: 3})
	})
	assert.Equal(t, 1, calls)
	assert.Len(t, all.Get(), 3)
}

func TestDefaultSelectID(t *testing.T) {
	t.Run("map with json number", func(t *testing.T) {
		c := New[map[string]any, int]()
		require.NoError(t, c.AddOne(map[string]any{"id": float64(5), "name": "x"}))
		assert.True(t, c.Has(5).Get())
	})

	t.Run("lossy conversion rejected", func(t *testing.T) {
		c := New[map[string]any, int]()
		assert.ErrorIs(t, c.AddOne(map[string]any{"id": 1.5}), ErrNoID)
	})

	t.Run("pointer to struct with Id", func(t *testing.T) {
		type user struct {
			Id   string
			Name string
		}
		c := New[*user, string]()
		require.NoError(t, c.AddOne(&user{Id: "u1"}))
		assert.Equal(t, []string{"u1"}, c.IDs().Get())
		assert.ErrorIs(t, c.AddOne(nil), ErrNoID)
	})

	t.Run("no id", func(t *testing.T) {
		c := New[struct{ Name string }, string]()
		assert.ErrorIs(t, c.AddOne(struct{ Name string }{"x"}), ErrNoID)
	})

	t.Run("custom selector", func(t *testing.T) {
		c := New[todo, string](WithSelectID[todo, string](func(t todo) string { return t.Title }))
		require.NoError(t, c.AddOne(todo{Title: "k"}))
		assert.True(t, c.Has("k").Get())
	})
}

func TestMerge(t *testing.T) {
	t.Run("struct keeps unnamed fields", func(t *testing.T) {
		got, err := Merge[todo](map[string]any{"status": "done"})(todo{ID: 1, Title: "a"})
		require.NoError(t, err)
		assert.Equal(t, todo{ID: 1, Title: "a", Status: "done"}, got)
	})

	t.Run("pointer copies before writing", func(t *testing.T) {
		orig := &todo{ID: 1, Title: "a"}
		got, err := Merge[*todo](map[string]any{"title": "b"})(orig)
		require.NoError(t, err)
		assert.Equal(t, "b", got.Title)
		assert.Equal(t, "a", orig.Title)
	})

	t.Run("map overlays keys", func(t *testing.T) {
		orig := map[string]any{"id": 1, "a": 1}
		got, err := Merge[map[string]any](map[string]any{"a": 2, "b": 3})(orig)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"id": 1, "a": 2, "b": 3}, got)
		assert.Equal(t, 1, orig["a"])
	})

	t.Run("bad type", func(t *testing.T) {
		_, err := Merge[todo](map[string]any{"id": "not-a-number"})(todo{})
		assert.Error(t, err)
	})
}

func TestParseMissingPolicy(t *testing.T) {
	p, err := ParseMissingPolicy("report")
	require.NoError(t, err)
	assert.Equal(t, MissingReport, p)
	assert.Equal(t, "report", p.String())

	_, err = ParseMissingPolicy("explode")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoID))
}
