// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package collective

import (
	"testing"

	"github.com/gomlx/syncmetrics/pkg/core/dtypes"
	"github.com/gomlx/syncmetrics/pkg/core/tensors"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroups(t *testing.T) {
	g, err := NewGroup(2, 0)
	require.NoError(t, err)
	assert.Equal(t, "ranks:2,0", g.Name())
	assert.Equal(t, 2, g.Size())
	assert.Equal(t, []int{2, 0}, g.Ranks())
	assert.Equal(t, 1, g.IndexOf(0))
	assert.Equal(t, -1, g.IndexOf(1))
	assert.Equal(t, "Group(ranks:2,0)", g.String())

	_, err = NewGroup()
	require.ErrorIs(t, err, ErrCommunicationFailure)
	_, err = NewGroup(1, 1)
	require.ErrorIs(t, err, ErrCommunicationFailure)
	_, err = NewGroup(-1)
	require.ErrorIs(t, err, ErrCommunicationFailure)

	world := WorldGroupOf(3)
	assert.Equal(t, "world", world.Name())
	assert.Equal(t, []int{0, 1, 2}, world.Ranks())

	validated, err := Validate(nil, 3)
	require.NoError(t, err)
	assert.Equal(t, world, validated)
	_, err = Validate(g, 2)
	require.ErrorIs(t, err, ErrCommunicationFailure)
	validated, err = Validate(g, 3)
	require.NoError(t, err)
	assert.Same(t, g, validated)
}

func TestParseReduceOp(t *testing.T) {
	for name, want := range map[string]ReduceOp{"sum": Sum, "SUM": Sum, "avg": Average, "mean": Average, " Average ": Average} {
		op, err := ParseReduceOp(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, op, name)
	}
	_, err := ParseReduceOp("max")
	require.Error(t, err)
	assert.Equal(t, "Average", Average.String())
}

func TestReduceTensors(t *testing.T) {
	values := []*tensors.Tensor{
		tensors.FromFlatDataAndDimensions([]float64{2, 1}, 2),
		tensors.FromFlatDataAndDimensions([]float64{4, 1}, 2),
		tensors.FromFlatDataAndDimensions([]float64{6, 1}, 2),
	}
	sum := must.M1(ReduceTensors(values, Sum))
	assert.Equal(t, []float64{12, 3}, sum.Value())
	avg := must.M1(ReduceTensors(values, Average))
	assert.Equal(t, []float64{4, 1}, avg.Value())

	// Inputs are not modified.
	assert.Equal(t, []float64{2, 1}, values[0].Value())

	ints := []*tensors.Tensor{tensors.FromScalar(int32(1)), tensors.FromScalar(int32(2))}
	avg = must.M1(ReduceTensors(ints, Average))
	assert.Equal(t, dtypes.Float32, avg.DType())
	assert.Equal(t, float32(1.5), avg.Value())
	sum = must.M1(ReduceTensors(ints, Sum))
	assert.Equal(t, int32(3), sum.Value())

	_, err := ReduceTensors(nil, Sum)
	require.Error(t, err)
	_, err = ReduceTensors([]*tensors.Tensor{tensors.FromScalar(1.0), tensors.FromScalar(float32(1))}, Sum)
	require.Error(t, err)
}

func TestRegistry(t *testing.T) {
	defer Register(nil)
	assert.Nil(t, Registered())
}
