// Package snapshot holds the flat settings record replicated between roles and
// the helpers every layer uses to copy, merge and compare it.
//
// A Snapshot is exchanged and persisted wholesale. Copies are shallow: nested
// maps and slices are shared between the copy and the original, so callers must
// replace nested values instead of mutating them in place.
package snapshot

import (
	"reflect"
	"sort"
)

// Snapshot is a flat record of named settings fields.
type Snapshot map[string]any

// Clone returns a shallow copy of s. A nil input yields an empty snapshot.
func Clone(s Snapshot) Snapshot {
	out := make(Snapshot, len(s))
	for key, value := range s {
		out[key] = value
	}
	return out
}

// Merge composes layers ordered from strongest to weakest. A key present in a
// stronger layer replaces the weaker value wholesale; nested values are not
// merged.
func Merge(layers ...Snapshot) Snapshot {
	out := Snapshot{}
	for i := len(layers) - 1; i >= 0; i-- {
		for key, value := range layers[i] {
			out[key] = value
		}
	}
	return out
}

// Keys returns the keys of s in sorted order.
func Keys(s Snapshot) []string {
	keys := make([]string, 0, len(s))
	for key := range s {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Pick returns a snapshot containing only the requested keys that exist in s.
// Without keys it returns a full copy.
func Pick(s Snapshot, keys ...string) Snapshot {
	if len(keys) == 0 {
		return Clone(s)
	}
	out := make(Snapshot, len(keys))
	for _, key := range keys {
		if value, ok := s[key]; ok {
			out[key] = value
		}
	}
	return out
}

// Same reports whether a and b are the same value under identity semantics:
// comparable values compare with ==, reference kinds (maps, slices, pointers,
// funcs, chans) compare by what they point at. A structurally identical copy of
// a map is therefore not the same, while a map mutated in place still is.
// Non-comparable struct and array values carry no identity and are never the
// same.
func Same(a, b any) (same bool) {
	// comparable structs can still hold non-comparable interface values
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va := reflect.ValueOf(a)
	vb := reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Map, reflect.Pointer, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	case reflect.Slice:
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	}
	if !va.Type().Comparable() {
		return false
	}
	return a == b
}
