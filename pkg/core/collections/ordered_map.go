// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package collections

import (
	"fmt"
	"slices"
	"strings"
)

// OrderedMap is a mapping from string keys to values that preserves the insertion order of its keys.
//
// The zero value is not usable, create it with NewOrderedMap.
type OrderedMap struct {
	keys   []string
	values map[string]any
}

// NewOrderedMap creates an OrderedMap, optionally with initial key/value pairs given as alternating
// `key, value` arguments.
//
// It panics if the keys are not strings or if the number of arguments is odd.
func NewOrderedMap(keyValues ...any) *OrderedMap {
	if len(keyValues)%2 != 0 {
		panic(fmt.Sprintf("NewOrderedMap: odd number of arguments (%d), expected key/value pairs", len(keyValues)))
	}
	m := &OrderedMap{values: make(map[string]any, len(keyValues)/2)}
	for ii := 0; ii < len(keyValues); ii += 2 {
		key, ok := keyValues[ii].(string)
		if !ok {
			panic(fmt.Sprintf("NewOrderedMap: key #%d is a %T, expected a string", ii/2, keyValues[ii]))
		}
		m.Set(key, keyValues[ii+1])
	}
	return m
}

// Set value for key. If the key is new, it is appended at the end of the order, otherwise its position is kept.
func (m *OrderedMap) Set(key string, value any) {
	if _, found := m.values[key]; !found {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the value for key, and whether it was found.
func (m *OrderedMap) Get(key string) (value any, found bool) {
	value, found = m.values[key]
	return
}

// Delete removes key from the map, if present.
func (m *OrderedMap) Delete(key string) {
	if _, found := m.values[key]; !found {
		return
	}
	delete(m.values, key)
	m.keys = slices.DeleteFunc(m.keys, func(k string) bool { return k == key })
}

// Keys returns a copy of the keys in insertion order.
func (m *OrderedMap) Keys() []string {
	return slices.Clone(m.keys)
}

// Len returns the number of entries.
func (m *OrderedMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// String implements fmt.Stringer.
func (m *OrderedMap) String() string {
	if m == nil {
		return "OrderedMap(nil)"
	}
	parts := make([]string, 0, len(m.keys))
	for _, key := range m.keys {
		parts = append(parts, fmt.Sprintf("%q: %v", key, m.values[key]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func keyPath(key string) string { return fmt.Sprintf("[%q]", key) }

func indexPath(index int) string { return fmt.Sprintf("[%d]", index) }
