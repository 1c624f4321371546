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
	"fmt"
	"maps"
	"reflect"

	"github.com/go-viper/mapstructure/v2"
)

// Merge builds a Patch that overlays changes onto a record.
//
// Description:
//
//	For map[string]any records the keys are copied over a fresh map. For
//	structs (or pointers to structs) the changes are decoded into a copy
//	with mapstructure, matching fields by their json tag and then by
//	case-insensitive name. Fields not named in changes keep their value.
//	Scalar conversions such as float64 to int are applied, so changes
//	decoded from JSON can be used directly.
//
// Inputs:
//   - changes: Field name to new value.
//
// Outputs:
//   - Patch[E]: Never modifies the stored record.
func Merge[E any](changes map[string]any) Patch[E] {
	return func(cur E) (E, error) {
		var zero E
		if m, ok := any(cur).(map[string]any); ok {
			out := make(map[string]any, len(m)+len(changes))
			maps.Copy(out, m)
			maps.Copy(out, changes)
			return any(out).(E), nil
		}

		rv := reflect.ValueOf(&cur).Elem()
		if rv.Kind() == reflect.Pointer {
			if rv.IsNil() {
				return zero, fmt.Errorf("merge into nil %T", cur)
			}
			cp := reflect.New(rv.Type().Elem())
			cp.Elem().Set(rv.Elem())
			if err := decodeInto(cp.Interface(), changes); err != nil {
				return zero, err
			}
			return cp.Interface().(E), nil
		}

		out := cur
		if err := decodeInto(&out, changes); err != nil {
			return zero, err
		}
		return out, nil
	}
}

func decodeInto(target any, changes map[string]any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("merge decoder: %w", err)
	}
	if err := dec.Decode(changes); err != nil {
		return fmt.Errorf("merge changes: %w", err)
	}
	return nil
}

// defaultSelectID reads the key from a struct field named ID or Id, or from
// the "id" entry of a string-keyed map. Numeric keys are converted when the
// conversion is lossless, so JSON-decoded float64 ids work with int keys.
func defaultSelectID[E any, K comparable](e E) (K, error) {
	var zero K
	v := reflect.ValueOf(any(e))
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return zero, fmt.Errorf("nil %T", e)
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return zero, fmt.Errorf("nil record")
	}

	var f reflect.Value
	switch v.Kind() {
	case reflect.Struct:
		f = v.FieldByName("ID")
		if !f.IsValid() {
			f = v.FieldByName("Id")
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String {
			f = v.MapIndex(reflect.ValueOf("id").Convert(v.Type().Key()))
		}
	}
	for f.IsValid() && f.Kind() == reflect.Interface {
		if f.IsNil() {
			f = reflect.Value{}
			break
		}
		f = f.Elem()
	}
	if !f.IsValid() {
		return zero, fmt.Errorf("%T has no ID field or id key", e)
	}

	kt := reflect.TypeFor[K]()
	if f.Type().AssignableTo(kt) {
		out := reflect.New(kt).Elem()
		out.Set(f)
		return out.Interface().(K), nil
	}
	if convertible(f, kt) {
		return f.Convert(kt).Interface().(K), nil
	}
	return zero, fmt.Errorf("id of type %s is not usable as %s", f.Type(), kt)
}

// convertible reports whether f converts to t without losing information.
func convertible(f reflect.Value, t reflect.Type) bool {
	if !f.Type().ConvertibleTo(t) {
		return false
	}
	fk, tk := f.Kind(), t.Kind()
	switch {
	case fk == reflect.String && tk == reflect.String:
		return true
	case isNumeric(fk) && isNumeric(tk):
		back := f.Convert(t).Convert(f.Type())
		return back.Equal(f)
	}
	return false
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
