// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package treepath provides the addressing scheme shared by the state tree,
// the path index, the diff engine and history entries.
//
// A Path is an ordered sequence of segments. Each segment is either an object
// key or an array index:
//
//	p := treepath.New("users", 0, "name")
//	p.String()                          // "users[0].name"
//	q, _ := treepath.Parse("users[0].name")
//	p.Equal(q)                          // true
//
// Keys containing '.', '[' or ']' are rendered in bracket-quoted form
// (`a["x.y"]`) so that Parse(p.String()) always round-trips.
package treepath

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidPath is returned by Parse for malformed path strings.
var ErrInvalidPath = errors.New("invalid path")

// Segment is a single step in a Path: an object key or an array index.
type Segment struct {
	key     string
	index   int
	isIndex bool
}

// Key returns a key segment.
func Key(k string) Segment {
	return Segment{key: k}
}

// Index returns an array index segment.
func Index(i int) Segment {
	return Segment{index: i, isIndex: true}
}

// IsIndex reports whether the segment addresses an array element.
func (s Segment) IsIndex() bool {
	return s.isIndex
}

// KeyName returns the object key. Empty for index segments.
func (s Segment) KeyName() string {
	return s.key
}

// IndexValue returns the array index. Zero for key segments.
func (s Segment) IndexValue() int {
	return s.index
}

// Value returns the segment as a string or an int.
func (s Segment) Value() any {
	if s.isIndex {
		return s.index
	}
	return s.key
}

// CacheKey returns a string uniquely identifying the segment within one
// level of a trie. Index segments and numeric-looking keys never collide.
func (s Segment) CacheKey() string {
	if s.isIndex {
		return "#" + strconv.Itoa(s.index)
	}
	return "$" + s.key
}

// String renders the segment the way it appears inside a path string.
func (s Segment) String() string {
	if s.isIndex {
		return "[" + strconv.Itoa(s.index) + "]"
	}
	if needsQuoting(s.key) {
		return "[" + strconv.Quote(s.key) + "]"
	}
	return s.key
}

// Path is an ordered sequence of segments from the tree root.
// The zero value is the root path.
type Path []Segment

// Root is the empty path.
var Root = Path{}

// New builds a path from string keys and int indexes.
//
// Inputs:
//   - parts: Each element must be a string, an int or a Segment.
//
// Outputs:
//   - Path: The built path. Panics on any other element type, since that is
//     a programming error at the call site.
func New(parts ...any) Path {
	p := make(Path, 0, len(parts))
	for _, part := range parts {
		switch v := part.(type) {
		case string:
			p = append(p, Key(v))
		case int:
			p = append(p, Index(v))
		case Segment:
			p = append(p, v)
		default:
			panic(fmt.Sprintf("treepath.New: unsupported segment type %T", part))
		}
	}
	return p
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Path {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Parse parses a dot/bracket path string such as `a.b[0]["x.y"]`.
//
// Description:
//
//	Dotted identifiers become key segments, bracketed integers become index
//	segments and bracketed quoted strings become key segments. The empty
//	string parses to the root path.
//
// Outputs:
//   - Path: The parsed path.
//   - error: ErrInvalidPath (wrapped) on malformed input.
func Parse(s string) (Path, error) {
	p := Path{}
	i := 0
	expectKey := true
	for i < len(s) {
		switch s[i] {
		case '.':
			if expectKey {
				return nil, fmt.Errorf("%w: empty key at offset %d in %q", ErrInvalidPath, i, s)
			}
			expectKey = true
			i++
		case '[':
			end, seg, err := parseBracket(s, i)
			if err != nil {
				return nil, err
			}
			p = append(p, seg)
			expectKey = false
			i = end
		default:
			start := i
			for i < len(s) && s[i] != '.' && s[i] != '[' {
				if s[i] == ']' {
					return nil, fmt.Errorf("%w: unexpected ']' at offset %d in %q", ErrInvalidPath, i, s)
				}
				i++
			}
			p = append(p, Key(s[start:i]))
			expectKey = false
		}
	}
	if expectKey && len(s) > 0 {
		return nil, fmt.Errorf("%w: trailing '.' in %q", ErrInvalidPath, s)
	}
	return p, nil
}

// parseBracket parses a bracket segment starting at s[start] == '['.
func parseBracket(s string, start int) (int, Segment, error) {
	i := start + 1
	if i < len(s) && s[i] == '"' {
		j := i + 1
		for j < len(s) {
			if s[j] == '\\' {
				j += 2
				continue
			}
			if s[j] == '"' {
				break
			}
			j++
		}
		if j >= len(s) || j+1 >= len(s) || s[j+1] != ']' {
			return 0, Segment{}, fmt.Errorf("%w: unterminated quoted key in %q", ErrInvalidPath, s)
		}
		key, err := strconv.Unquote(s[i : j+1])
		if err != nil {
			return 0, Segment{}, fmt.Errorf("%w: %v", ErrInvalidPath, err)
		}
		return j + 2, Key(key), nil
	}
	end := strings.IndexByte(s[i:], ']')
	if end < 0 {
		return 0, Segment{}, fmt.Errorf("%w: unterminated '[' in %q", ErrInvalidPath, s)
	}
	n, err := strconv.Atoi(s[i : i+end])
	if err != nil || n < 0 {
		return 0, Segment{}, fmt.Errorf("%w: bad index %q in %q", ErrInvalidPath, s[i:i+end], s)
	}
	return i + end + 1, Index(n), nil
}

func needsQuoting(k string) bool {
	return k == "" || strings.ContainsAny(k, ".[]\"")
}

// String renders the path as `a.b[0].c`. The root path renders as "".
func (p Path) String() string {
	var b strings.Builder
	for i, seg := range p {
		str := seg.String()
		if i > 0 && !strings.HasPrefix(str, "[") {
			b.WriteByte('.')
		}
		b.WriteString(str)
	}
	return b.String()
}

// Len returns the number of segments.
func (p Path) Len() int {
	return len(p)
}

// IsRoot reports whether p addresses the root.
func (p Path) IsRoot() bool {
	return len(p) == 0
}

// Child returns a new path with seg appended. p is not modified.
func (p Path) Child(seg Segment) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, seg)
}

// Key returns a new path with a key segment appended.
func (p Path) Key(k string) Path {
	return p.Child(Key(k))
}

// Index returns a new path with an index segment appended.
func (p Path) Index(i int) Path {
	return p.Child(Index(i))
}

// Parent returns the path without its last segment. The root's parent is
// the root.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return Root
	}
	return p[:len(p)-1:len(p)-1]
}

// Last returns the last segment and false for the root path.
func (p Path) Last() (Segment, bool) {
	if len(p) == 0 {
		return Segment{}, false
	}
	return p[len(p)-1], true
}

// Equal reports whether two paths address the same location.
func (p Path) Equal(o Path) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether prefix is an ancestor-or-self of p.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	return p[:len(prefix)].Equal(prefix)
}

// Relative returns p with prefix removed. ok is false if prefix is not a
// prefix of p.
func (p Path) Relative(prefix Path) (Path, bool) {
	if !p.HasPrefix(prefix) {
		return nil, false
	}
	out := make(Path, len(p)-len(prefix))
	copy(out, p[len(prefix):])
	return out, true
}

// Clone returns an independent copy of p.
func (p Path) Clone() Path {
	out := make(Path, len(p))
	copy(out, p)
	return out
}

// Values returns the segments as strings and ints, the form used in JSON
// output of change records.
func (p Path) Values() []any {
	out := make([]any, len(p))
	for i, seg := range p {
		out[i] = seg.Value()
	}
	return out
}

// FromValues is the inverse of Values. JSON numbers decoded as float64 are
// accepted as indexes when they are whole and non-negative.
func FromValues(vals []any) (Path, error) {
	p := make(Path, 0, len(vals))
	for _, v := range vals {
		switch x := v.(type) {
		case string:
			p = append(p, Key(x))
		case int:
			p = append(p, Index(x))
		case float64:
			if x < 0 || x != float64(int(x)) {
				return nil, fmt.Errorf("%w: index %v is not a whole non-negative number", ErrInvalidPath, x)
			}
			p = append(p, Index(int(x)))
		default:
			return nil, fmt.Errorf("%w: unsupported segment %T", ErrInvalidPath, v)
		}
	}
	return p, nil
}
