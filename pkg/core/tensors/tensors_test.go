// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"bytes"
	"encoding/gob"
	"sync"
	"testing"

	"github.com/gomlx/syncmetrics/pkg/core/arrays"
	"github.com/gomlx/syncmetrics/pkg/core/dtypes"
	"github.com/gomlx/syncmetrics/pkg/core/shapes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func cmpShapes(t *testing.T, shape, wantShape shapes.Shape, err error) {
	if err != nil {
		t.Fatalf("Failed to get shape (wanted %q) from value: %v", wantShape, err)
	}
	if !wantShape.Equal(shape) {
		t.Fatalf("Invalid shape %q, wanted %q", shape, wantShape)
	}
}

func TestShapeForValue(t *testing.T) {
	shape, err := shapeForValue([][]float32{{0, 0}, {1, 1}, {2, 2}})
	cmpShapes(t, shape, shapes.Make(dtypes.Float32, 3, 2), err)

	shape, err = shapeForValue([][][]float64{{{1}}})
	cmpShapes(t, shape, shapes.Make(dtypes.Float64, 1, 1, 1), err)

	shape, err = shapeForValue(5)
	cmpShapes(t, shape, shapes.Make(dtypes.FromGenericsType[int]()), err)

	_, err = shapeForValue([][]int64{{1, 2}, {3}})
	require.ErrorContains(t, err, "irregular shapes")
	_, err = shapeForValue([]string{"a"})
	require.ErrorContains(t, err, "opaque")
}

func TestFromAnyValue(t *testing.T) {
	x := must.M1(FromAnyValue([][]float32{{1, 2}, {3, 4}, {5, 6}}))
	assert.Equal(t, []int{3, 2}, x.Shape().Dimensions)
	assert.Equal(t, [][]float32{{1, 2}, {3, 4}, {5, 6}}, x.Value())

	y := must.M1(FromAnyValue(x))
	assert.Same(t, x, y)

	s := must.M1(FromAnyValue(complex128(1 + 1i)))
	assert.True(t, s.IsScalar())
	assert.Equal(t, complex128(1+1i), s.Value())

	i := must.M1(FromAnyValue([]int{1, 2}))
	assert.Equal(t, dtypes.FromGenericsType[int](), i.DType())
	assert.Equal(t, 2, i.Size())
}

func TestConstructors(t *testing.T) {
	x := FromScalarAndDimensions(float64(2), 2, 2)
	assert.Equal(t, [][]float64{{2, 2}, {2, 2}}, x.Value())
	assert.Equal(t, HostDevice, x.Device())

	data := []int16{1, 2, 3}
	y := FromFlatDataAndDimensions(data, 3)
	data[0] = 10
	assert.Equal(t, []int16{1, 2, 3}, y.Value())

	z := FromShape(shapes.Make(dtypes.Float16, 2))
	assert.Equal(t, []float16.Float16{0, 0}, CopyFlatData[float16.Float16](z))

	empty := FromShape(shapes.Make(dtypes.Float32, 0, 3))
	assert.Equal(t, 0, empty.Size())
	assert.Equal(t, "(Float32)[0 3]", empty.GoStr())

	require.Panics(t, func() { FromFlatDataAndDimensions([]string{"a"}, 1) })
	require.Panics(t, func() { FromShape(shapes.Make(dtypes.Object, 1)) })
	require.Panics(t, func() { FromShape(shapes.Invalid()) })
	_, err := FromFlatAny([]float32{1, 2}, 3)
	require.ErrorContains(t, err, "data size is 2")
}

func TestFromArrayAndToHost(t *testing.T) {
	a := arrays.FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2)
	x := must.M1(FromArray(a, 1))
	assert.Equal(t, DeviceNum(1), x.Device())
	assert.Equal(t, [][]float32{{1, 2}, {3, 4}}, x.Value())

	// Storage is not shared with the array.
	MustConstFlatData(x, func(flat []float32) { flat[0] = 100 })
	assert.Equal(t, [][]float32{{1, 2}, {3, 4}}, a.Value())

	host := must.M1(x.ToHost())
	assert.Equal(t, [][]float32{{100, 2}, {3, 4}}, host.Value())
	MustConstFlatData(x, func(flat []float32) { flat[0] = 1 })
	assert.Equal(t, float32(100), arrays.CopyFlatData[float32](host)[0], "host copy must be detached")

	_, err := FromArray(arrays.FromStrings([]string{"a"}), HostDevice)
	require.ErrorContains(t, err, "opaque")
}

func TestTo(t *testing.T) {
	x := FromFlatDataAndDimensions([]int32{1, 2}, 2)
	assert.Same(t, x, must.M1(x.To(dtypes.Int32, HostDevice)))
	assert.Same(t, x, must.M1(x.To(dtypes.InvalidDType, HostDevice)))

	y := must.M1(x.To(dtypes.Float64, 2))
	assert.NotSame(t, x, y)
	assert.Equal(t, dtypes.Float64, y.DType())
	assert.Equal(t, DeviceNum(2), y.Device())
	assert.Equal(t, []float64{1, 2}, y.Value())
	assert.Equal(t, HostDevice, x.Device())

	_, err := x.To(dtypes.String, HostDevice)
	require.Error(t, err)
}

func TestGrad(t *testing.T) {
	x := FromScalar(float32(1))
	assert.False(t, x.RequiresGrad())
	assert.Same(t, x, x.Detach())

	x.SetRequiresGrad(true)
	d := x.Detach()
	assert.NotSame(t, x, d)
	assert.False(t, d.RequiresGrad())
	assert.True(t, x.Equal(d))

	moved := must.M1(x.To(dtypes.Float32, 3))
	assert.True(t, moved.RequiresGrad())
	cast := must.M1(x.To(dtypes.Float64, HostDevice))
	assert.False(t, cast.RequiresGrad())
}

func TestArithmetic(t *testing.T) {
	x := FromFlatDataAndDimensions([]float32{1, 2}, 2)
	y := FromFlatDataAndDimensions([]float32{3, 4}, 2)
	sum := must.M1(x.Add(y))
	assert.Equal(t, []float32{4, 6}, sum.Value())
	double := must.M1(x.Add(x))
	assert.Equal(t, []float32{2, 4}, double.Value())

	avg := must.M1(sum.DivScalar(2))
	assert.True(t, avg.InDelta(FromFlatDataAndDimensions([]float32{2, 3}, 2), 1e-6))

	_, err := x.Add(FromFlatDataAndDimensions([]float32{1}, 1))
	require.ErrorContains(t, err, "mismatched shapes")
	_, err = FromScalar(int64(1)).DivScalar(2)
	require.Error(t, err)
}

func TestScalarAccess(t *testing.T) {
	assert.Equal(t, 3.0, ToScalar[float64](FromScalar(3.0)))
	assert.Equal(t, 3.0, ToScalar[float64](FromFlatDataAndDimensions([]float64{3}, 1)))
	require.Panics(t, func() { ToScalar[float32](FromScalar(3.0)) })
	require.Panics(t, func() { ToScalar[float64](FromFlatDataAndDimensions([]float64{1, 2}, 2)) })
	require.Error(t, ConstFlatData(FromScalar(1.0), func(flat []int32) {}))
}

func TestEqualAndInDelta(t *testing.T) {
	x := FromFlatDataAndDimensions([]float64{1, 2}, 2)
	assert.True(t, x.Equal(must.M1(x.Clone())))
	assert.False(t, x.Equal(FromFlatDataAndDimensions([]float64{1, 2}, 2, 1)))
	assert.False(t, x.Equal(FromFlatDataAndDimensions([]float64{1, 3}, 2)))
	assert.True(t, x.InDelta(FromFlatDataAndDimensions([]float64{1.01, 2}, 2), 0.1))
	assert.False(t, x.InDelta(FromFlatDataAndDimensions([]float64{1.2, 2}, 2), 0.1))
}

func TestFinalize(t *testing.T) {
	x := FromScalar(int8(1))
	require.True(t, x.Ok())
	x.FinalizeAll()
	require.False(t, x.Ok())
	require.Error(t, x.CheckValid())
	require.Panics(t, func() { _ = x.Value() })
	assert.Equal(t, "Tensor(invalid)", x.String())
	x.FinalizeAll() // No-op.
}

func TestString(t *testing.T) {
	assert.Equal(t, "float32(2.5)", FromScalar(float32(2.5)).String())
	assert.Equal(t, "[2]int64{1, 2}", FromFlatDataAndDimensions([]int64{1, 2}, 2).String())
	moved := must.M1(FromScalar(1.0).To(dtypes.Float64, 1))
	assert.Equal(t, "float64(1)@device(1)", moved.String())
	assert.Equal(t, "(Int32)[2]: []int32{1, 2}", FromFlatDataAndDimensions([]int32{1, 2}, 2).GoStr())
	assert.Equal(t, "float64(3)", FromScalar(3.0).GoStr())
}

func TestGobSerialization(t *testing.T) {
	for _, x := range []*Tensor{
		FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 3, 2),
		FromScalar(uint8(7)),
	} {
		buf := &bytes.Buffer{}
		require.NoError(t, x.GobSerialize(gob.NewEncoder(buf)))
		x2, err := GobDeserializeToDevice(gob.NewDecoder(buf), 4)
		require.NoError(t, err)
		assert.True(t, x.Equal(x2), "round trip of %s", x)
		assert.Equal(t, DeviceNum(4), x2.Device())
	}
}

func TestConcurrentAccess(t *testing.T) {
	x := FromFlatDataAndDimensions([]float64{1, 2, 3}, 3)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = must.M1(x.Add(x))
			_ = x.Value()
			_ = x.Device()
		}()
	}
	wg.Wait()
}

func TestConcurrentCrossedComparisons(t *testing.T) {
	a := FromFlatDataAndDimensions([]float64{1, 2, 3}, 3)
	b := FromFlatDataAndDimensions([]float64{1, 2, 3}, 3)
	var wg sync.WaitGroup
	for ii := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			x, y := a, b
			if ii%2 == 1 {
				x, y = b, a
			}
			for range 500 {
				if !x.Equal(y) || !x.InDelta(y, 1e-9) {
					t.Errorf("%s and %s should be equal", x, y)
					return
				}
			}
		}()
	}
	wg.Wait()
}
