// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package collections traverses nested containers of values, applying a function to the leaves.
//
// The set of containers is closed:
//
//   - Ordered sequences: `[]any` and Tuple (a fixed arity sequence, reconstructed as a Tuple).
//   - Key-ordered mappings: *OrderedMap (insertion ordered, string keys) and `map[string]any`.
//   - Sets: `sets.Set[any]`. Their elements are visited in no particular order.
//
// Any other value (strings, []byte, structs, typed slices, nil, ...) is not traversed and is
// returned unchanged, unless it is a leaf selected for mapping (see package leaves).
//
// Cycles are not detected: the traversal of a cyclic structure doesn't terminate.
package collections

import (
	"maps"
	"reflect"
	"slices"

	"github.com/gomlx/syncmetrics/pkg/core/leaves"
	"github.com/gomlx/syncmetrics/pkg/support/sets"
	"github.com/pkg/errors"
)

// Tuple is a fixed arity ordered sequence. It is kept distinct from `[]any` so that mapping a Tuple returns a Tuple.
type Tuple []any

// LeafFn converts one leaf value. Extra arguments are captured by closures.
type LeafFn func(leaf any) (any, error)

// Map returns a copy of value with the same nested structure, where every leaf whose kind is in kinds is
// replaced by fn(leaf). Containers are reconstructed as the same concrete kind, with keys and order preserved.
//
// The first error returned by fn aborts the traversal. It is returned annotated with the path of the element
// that failed (e.g.: `[2]["scores"]`).
func Map(value any, kinds leaves.KindSet, fn LeafFn) (any, error) {
	return mapRecursive(value, kinds, fn, "")
}

func mapRecursive(value any, kinds leaves.KindSet, fn LeafFn, path string) (any, error) {
	if leaves.IsIn(value, kinds) {
		mapped, err := fn(value)
		if err != nil {
			if path == "" {
				return nil, err
			}
			return nil, errors.WithMessagef(err, "at %s", path)
		}
		return mapped, nil
	}

	switch v := value.(type) {
	case *OrderedMap:
		if v == nil {
			return v, nil
		}
		result := NewOrderedMap()
		for _, key := range v.keys {
			mapped, err := mapRecursive(v.values[key], kinds, fn, path+keyPath(key))
			if err != nil {
				return nil, err
			}
			result.Set(key, mapped)
		}
		return result, nil

	case map[string]any:
		if v == nil {
			return v, nil
		}
		// Keys are visited in sorted order, so every peer traverses the same mapping in the same order.
		result := make(map[string]any, len(v))
		for _, key := range slices.Sorted(maps.Keys(v)) {
			mapped, err := mapRecursive(v[key], kinds, fn, path+keyPath(key))
			if err != nil {
				return nil, err
			}
			result[key] = mapped
		}
		return result, nil

	case []any:
		if v == nil {
			return v, nil
		}
		result, err := mapSequence(v, kinds, fn, path)
		if err != nil {
			return nil, err
		}
		return result, nil

	case Tuple:
		if v == nil {
			return v, nil
		}
		result, err := mapSequence(v, kinds, fn, path)
		if err != nil {
			return nil, err
		}
		return Tuple(result), nil

	case sets.Set[any]:
		if v == nil {
			return v, nil
		}
		result := sets.Make[any](len(v))
		for element := range v {
			mapped, err := mapRecursive(element, kinds, fn, path+"{}")
			if err != nil {
				return nil, err
			}
			if mapped != nil && !reflect.TypeOf(mapped).Comparable() {
				return nil, errors.Errorf("at %s{}: mapped set element of type %T is not comparable", path, mapped)
			}
			result.Insert(mapped)
		}
		return result, nil

	default:
		return value, nil
	}
}

func mapSequence(values []any, kinds leaves.KindSet, fn LeafFn, path string) ([]any, error) {
	result := make([]any, len(values))
	for ii, element := range values {
		mapped, err := mapRecursive(element, kinds, fn, path+indexPath(ii))
		if err != nil {
			return nil, err
		}
		result[ii] = mapped
	}
	return result, nil
}
