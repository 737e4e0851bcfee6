// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xslices

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/x448/float16"
)

func TestFillSlice(t *testing.T) {
	s := make([]int, 5)
	FillSlice(s, 3)
	assert.Equal(t, []int{3, 3, 3, 3, 3}, s)
	assert.Equal(t, []float32{1, 1}, SliceWithValue(2, float32(1)))
	assert.Equal(t, []float64{3, 4}, Iota(3.0, 2))
	assert.Equal(t, []int{2, 4}, Map([]int{1, 2}, func(e int) int { return 2 * e }))
}

func TestSlicesInDelta(t *testing.T) {
	assert.True(t, SlicesInDelta([]float64{1, 2}, []float64{1.001, 2}, 0.01))
	assert.False(t, SlicesInDelta([]float64{1, 2}, []float64{1.1, 2}, 0.01))
	assert.False(t, SlicesInDelta([]float64{1, 2}, []float32{1, 2}, 0.01))
	assert.False(t, SlicesInDelta([]float64{1, 2}, []float64{1}, 0.01))
	assert.True(t, SlicesInDelta([][]int{{1}, {2}}, [][]int{{1}, {2}}, 0))
	assert.True(t, SlicesInDelta([]complex64{1 + 1i}, []complex64{1 + 1.001i}, 0.01))
	assert.True(t, SlicesInDelta(
		[]float16.Float16{float16.Fromfloat32(1)},
		[]float16.Float16{float16.Fromfloat32(1.001)}, 0.01))
	assert.True(t, SlicesInDelta([]string{"a"}, []string{"a"}, 0.1))
	assert.False(t, SlicesInDelta([]string{"a"}, []string{"b"}, 0.1))
}

func TestSliceToGoStr(t *testing.T) {
	assert.Equal(t, "[][]int{{1, 2}, {3}}", SliceToGoStr([][]int{{1, 2}, {3}}))
	assert.Equal(t, `[]string{"a"}`, SliceToGoStr([]string{"a"}))
}
