// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package collections

import (
	"testing"

	"github.com/gomlx/syncmetrics/pkg/core/arrays"
	"github.com/gomlx/syncmetrics/pkg/core/leaves"
	"github.com/gomlx/syncmetrics/pkg/core/tensors"
	"github.com/gomlx/syncmetrics/pkg/support/sets"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identity(leaf any) (any, error) { return leaf, nil }

func double(leaf any) (any, error) {
	switch v := leaf.(type) {
	case float64:
		return 2 * v, nil
	case int:
		return 2 * v, nil
	}
	return leaf, nil
}

func TestIdentityRoundTrip(t *testing.T) {
	x := tensors.FromScalar(1.0)
	a := arrays.FromScalar(float32(2))
	value := []any{
		1.0,
		Tuple{x, "text", []byte("bytes")},
		NewOrderedMap("b", a, "a", []any{2, true}),
		map[string]any{"k": Tuple{}},
		sets.MakeWith[any](3, "s"),
		nil,
	}
	got, err := Map(value, leaves.AllKinds(), identity)
	require.NoError(t, err)
	gotSeq, ok := got.([]any)
	require.True(t, ok)
	require.Len(t, gotSeq, 6)

	assert.Equal(t, 1.0, gotSeq[0])

	tuple, ok := gotSeq[1].(Tuple)
	require.True(t, ok, "Tuple must be reconstructed as a Tuple, got %T", gotSeq[1])
	assert.Same(t, x, tuple[0])
	assert.Equal(t, "text", tuple[1])
	assert.Equal(t, []byte("bytes"), tuple[2])

	m, ok := gotSeq[2].(*OrderedMap)
	require.True(t, ok)
	assert.Equal(t, []string{"b", "a"}, m.Keys())
	mA, _ := m.Get("b")
	assert.Same(t, a, mA)
	mB, _ := m.Get("a")
	assert.Equal(t, []any{2, true}, mB)

	assert.Equal(t, map[string]any{"k": Tuple{}}, gotSeq[3])
	assert.True(t, sets.MakeWith[any](3, "s").Equal(gotSeq[4].(sets.Set[any])))
	assert.Nil(t, gotSeq[5])

	// Containers are new.
	gotSeq[0] = 7.0
	assert.Equal(t, 1.0, value[0])
}

func TestMapLeaves(t *testing.T) {
	got, err := Map(map[string]any{"a": 1.0, "b": []any{2, "x"}}, leaves.AllKinds(), double)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 2.0, "b": []any{4, "x"}}, got)

	// Only selected kinds are visited.
	x := tensors.FromScalar(3.0)
	got, err = Map(Tuple{1.0, x}, leaves.TensorsOnly(), func(leaf any) (any, error) {
		return "visited", nil
	})
	require.NoError(t, err)
	assert.Equal(t, Tuple{1.0, "visited"}, got)

	// A leaf at the top level.
	got, err = Map(5, leaves.AllKinds(), double)
	require.NoError(t, err)
	assert.Equal(t, 10, got)

	// Non-leaves pass through.
	got, err = Map("text", leaves.AllKinds(), double)
	require.NoError(t, err)
	assert.Equal(t, "text", got)
}

func TestMapSets(t *testing.T) {
	got, err := Map(sets.MakeWith[any](1, 2), leaves.AllKinds(), double)
	require.NoError(t, err)
	assert.True(t, sets.MakeWith[any](2, 4).Equal(got.(sets.Set[any])))

	_, err = Map(sets.MakeWith[any](1), leaves.AllKinds(), func(leaf any) (any, error) {
		return []int{1}, nil
	})
	require.ErrorContains(t, err, "not comparable")
}

func TestMapNilContainers(t *testing.T) {
	for _, value := range []any{[]any(nil), Tuple(nil), map[string]any(nil), (*OrderedMap)(nil), sets.Set[any](nil)} {
		got, err := Map(value, leaves.AllKinds(), double)
		require.NoError(t, err)
		assert.Equal(t, value, got)
	}
}

func TestMapErrors(t *testing.T) {
	errBoom := errors.New("boom")
	calls := 0
	failOnSecond := func(leaf any) (any, error) {
		calls++
		if calls == 2 {
			return nil, errBoom
		}
		return leaf, nil
	}
	value := []any{1.0, NewOrderedMap("scores", []any{2.0, 3.0})}
	_, err := Map(value, leaves.AllKinds(), failOnSecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), `[1]["scores"][0]`)
	assert.Equal(t, 2, calls, "traversal must stop at the first error")

	_, err = Map(1.0, leaves.AllKinds(), func(any) (any, error) { return nil, errBoom })
	assert.Equal(t, errBoom, err)
}

func TestOrderedMap(t *testing.T) {
	m := NewOrderedMap("z", 1, "y", 2)
	m.Set("x", 3)
	m.Set("z", 4)
	assert.Equal(t, []string{"z", "y", "x"}, m.Keys())
	assert.Equal(t, 3, m.Len())
	v, found := m.Get("z")
	assert.True(t, found)
	assert.Equal(t, 4, v)
	m.Delete("y")
	m.Delete("missing")
	assert.Equal(t, []string{"z", "x"}, m.Keys())
	assert.Equal(t, `{"z": 4, "x": 3}`, m.String())
	assert.Panics(t, func() { NewOrderedMap("a") })
	assert.Panics(t, func() { NewOrderedMap(1, 2) })
}
