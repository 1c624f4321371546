// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package treepath

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Path
	}{
		{"", Path{}},
		{"a", New("a")},
		{"a.b.c", New("a", "b", "c")},
		{"users[0].name", New("users", 0, "name")},
		{"[3]", New(3)},
		{"m[1][2]", New("m", 1, 2)},
		{`a["x.y"].z`, New("a", "x.y", "z")},
		{`a[""]`, New("a", "")},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "Parse(%q) = %v, want %v", tt.in, got, tt.want)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	for _, in := range []string{".a", "a.", "a..b", "a[", "a[x]", "a[-1]", `a["x]`, "a]"} {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidPath))
		})
	}
}

func TestPath_StringRoundTrip(t *testing.T) {
	paths := []Path{
		Root,
		New("a"),
		New("a", 0, "b"),
		New(0, 1),
		New("dotted.key", "[weird]", `q"uote`),
		New("a", ""),
	}
	for _, p := range paths {
		t.Run(p.String(), func(t *testing.T) {
			back, err := Parse(p.String())
			require.NoError(t, err)
			assert.True(t, back.Equal(p), "round trip of %v gave %v", p, back)
		})
	}
}

func TestPath_Navigation(t *testing.T) {
	p := New("a", "b", 2)

	assert.Equal(t, 3, p.Len())
	assert.False(t, p.IsRoot())
	assert.True(t, Root.IsRoot())

	assert.True(t, p.Parent().Equal(New("a", "b")))
	assert.True(t, Root.Parent().IsRoot())

	last, ok := p.Last()
	require.True(t, ok)
	assert.True(t, last.IsIndex())
	assert.Equal(t, 2, last.IndexValue())

	_, ok = Root.Last()
	assert.False(t, ok)

	assert.True(t, p.HasPrefix(New("a")))
	assert.True(t, p.HasPrefix(Root))
	assert.False(t, p.HasPrefix(New("b")))

	rel, ok := p.Relative(New("a"))
	require.True(t, ok)
	assert.True(t, rel.Equal(New("b", 2)))
}

func TestPath_ChildDoesNotAlias(t *testing.T) {
	base := New("a", "b")
	x := base.Parent().Key("x")
	y := base.Parent().Key("y")

	assert.Equal(t, "a.x", x.String())
	assert.Equal(t, "a.y", y.String())
	assert.Equal(t, "a.b", base.String())
}

func TestSegment_CacheKeyDistinguishesIndexFromKey(t *testing.T) {
	assert.NotEqual(t, Key("0").CacheKey(), Index(0).CacheKey())
}

func TestFromValues(t *testing.T) {
	p, err := FromValues([]any{"a", float64(1), 2})
	require.NoError(t, err)
	assert.True(t, p.Equal(New("a", 1, 2)))
	assert.Equal(t, []any{"a", 1, 2}, p.Values())

	_, err = FromValues([]any{1.5})
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = FromValues([]any{true})
	assert.ErrorIs(t, err, ErrInvalidPath)
}
