// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package snapshot produces deep, independent copies of plain tree data.
//
// Objects (map[string]any) and arrays ([]any) are copied structurally.
// Leaves fall into two groups:
//
//   - Immutable or identity-bearing leaves are shared: scalars, strings,
//     time.Time, *regexp.Regexp, funcs, channels and nil.
//   - Every other leaf (structs, typed slices and maps, pointers) is copied
//     with copystructure so a stored snapshot never aliases live data.
//
// Cyclic object graphs are not supported and will not terminate.
package snapshot

import (
	"fmt"
	"reflect"
	"regexp"
	"time"

	"github.com/mitchellh/copystructure"
)

var (
	timeType   = reflect.TypeOf(time.Time{})
	regexpType = reflect.TypeOf(&regexp.Regexp{})
)

// Clone returns a deep copy of v.
//
// Outputs:
//   - any: The copy. Mutating it never affects v and vice versa.
//   - error: Non-nil if a leaf could not be copied.
func Clone(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, child := range x {
			c, err := Clone(child)
			if err != nil {
				return nil, fmt.Errorf("clone key %q: %w", k, err)
			}
			out[k] = c
		}
		return out, nil
	case []any:
		if x == nil {
			return []any(nil), nil
		}
		out := make([]any, len(x))
		for i, child := range x {
			c, err := Clone(child)
			if err != nil {
				return nil, fmt.Errorf("clone index %d: %w", i, err)
			}
			out[i] = c
		}
		return out, nil
	}
	if isShared(v) {
		return v, nil
	}
	c, err := copystructure.Copy(v)
	if err != nil {
		return nil, fmt.Errorf("copy %T: %w", v, err)
	}
	return c, nil
}

// MustClone is Clone for values known to be plain data. It panics on error.
func MustClone(v any) any {
	c, err := Clone(v)
	if err != nil {
		panic(err)
	}
	return c
}

// isShared reports whether a leaf can be shared between copies.
func isShared(v any) bool {
	t := reflect.TypeOf(v)
	if t == timeType || t == regexpType {
		return true
	}
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128,
		reflect.String, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return true
	}
	return false
}
