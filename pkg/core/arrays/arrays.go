// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package arrays implements Array, a host resident multidimensional array.
//
// An Array is the "array space" representation of a value: a flat Go slice of the dtype's Go type plus a shape.
// It holds no device placement and no computation graph attachment. Contrary to tensors.Tensor, an Array can
// hold the opaque dtypes (dtypes.String and dtypes.Object), see FromStrings and FromObjects.
//
// Arrays are treated as immutable values: all operations return new arrays.
//
// Construction:
//
//   - FromShape(shape shapes.Shape): zero initialized array.
//   - FromScalar[T](value T): a scalar (rank 0) array.
//   - FromFlatDataAndDimensions[T](data []T, dimensions ...int): copies data into a new array.
//   - FromFlatAny(flat any, dimensions ...int): non-generic version, returns an error for unsupported slices.
package arrays

import (
	"encoding/gob"
	"fmt"
	"reflect"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/syncmetrics/internal/kernels"
	"github.com/gomlx/syncmetrics/pkg/core/dtypes"
	"github.com/gomlx/syncmetrics/pkg/core/shapes"
	"github.com/gomlx/syncmetrics/pkg/support/xslices"
	"github.com/pkg/errors"
)

// Array is a host resident multidimensional array, stored as a flat slice of the Go type corresponding to its
// dtype (e.g.: []float32 for dtypes.Float32).
type Array struct {
	shape shapes.Shape
	flat  any
}

// FromShape returns an Array with the given shape, with the data initialized with zeros.
//
// It panics for an invalid shape.
func FromShape(shape shapes.Shape) *Array {
	if !shape.Ok() {
		exceptions.Panicf("arrays.FromShape(): invalid shape %s", shape)
	}
	return &Array{shape: shape.Clone(), flat: kernels.Make(shape.DType, shape.Size())}
}

// FromScalar returns a scalar (rank 0) Array with the given value.
func FromScalar[T dtypes.Supported](value T) *Array {
	return FromFlatDataAndDimensions([]T{value})
}

// FromFlatDataAndDimensions creates an Array with the given dimensions, filled with a copy of data.
//
// It panics if the size of data is wrong for the shape.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) *Array {
	a, err := FromFlatAny(data, dimensions...)
	if err != nil {
		panic(err)
	}
	return a
}

// FromFlatAny creates an Array from a flat slice of any supported Go type (including []string and []any),
// with the given dimensions. The data is copied.
//
// Slices of Go's int and uint are stored with their fixed-width dtype (Int64 or Int32, Uint64 or Uint32).
func FromFlatAny(flat any, dimensions ...int) (*Array, error) {
	dtype := dtypes.FromFlat(flat)
	if dtype == dtypes.InvalidDType {
		return nil, errors.Errorf("arrays.FromFlatAny: %T is not a flat slice of a supported type", flat)
	}
	for _, dim := range dimensions {
		if dim < 0 {
			return nil, errors.Errorf("arrays.FromFlatAny: negative dimension in %v", dimensions)
		}
	}
	shape := shapes.Make(dtype, dimensions...)
	if n := kernels.Len(flat); n != shape.Size() {
		return nil, errors.Errorf("arrays.FromFlatAny(%s): data size is %d, but dimensions size is %d",
			shape, n, shape.Size())
	}
	normalized := kernels.Normalize(flat)
	if reflect.TypeOf(normalized) == reflect.TypeOf(flat) {
		normalized = kernels.Clone(flat)
	}
	return &Array{shape: shape, flat: normalized}, nil
}

// FromStrings creates an Array of the opaque dtype String. It can not be converted to a tensor.
func FromStrings(values []string, dimensions ...int) *Array {
	if len(dimensions) == 0 {
		dimensions = []int{len(values)}
	}
	return FromFlatDataAndDimensions(values, dimensions...)
}

// FromObjects creates an Array of the opaque dtype Object, holding arbitrary Go values.
// It can not be converted to a tensor.
func FromObjects(values []any, dimensions ...int) *Array {
	if len(dimensions) == 0 {
		dimensions = []int{len(values)}
	}
	a, err := FromFlatAny(values, dimensions...)
	if err != nil {
		panic(err)
	}
	return a
}

// Shape of the Array, it includes its DType.
func (a *Array) Shape() shapes.Shape { return a.shape }

// DType of the Array's elements.
func (a *Array) DType() dtypes.DType {
	if a == nil {
		return dtypes.InvalidDType
	}
	return a.shape.DType
}

// Rank is a shortcut to Array.Shape().Rank().
func (a *Array) Rank() int { return a.shape.Rank() }

// Size returns the number of elements in the Array.
func (a *Array) Size() int { return a.shape.Size() }

// IsOpaque returns whether the Array holds one of the opaque dtypes (String or Object).
func (a *Array) IsOpaque() bool { return a.shape.DType.IsOpaque() }

// Flat returns the underlying flat slice, owned by the Array. It must not be modified.
func (a *Array) Flat() any { return a.flat }

// CopyFlatData returns a copy of the flat data of the Array.
//
// It panics if T doesn't match the dtype of the Array.
func CopyFlatData[T dtypes.Supported](a *Array) []T {
	flat, ok := a.flat.([]T)
	if !ok {
		var v T
		exceptions.Panicf("arrays.CopyFlatData[%T] is incompatible with Array's dtype %s", v, a.shape.DType)
	}
	return kernels.Clone(flat).([]T)
}

// ToScalar returns the single value of a scalar Array, or of an Array with one element.
//
// It panics if T doesn't match the dtype, or if the Array holds more than one element.
func ToScalar[T dtypes.Supported](a *Array) T {
	flat, ok := a.flat.([]T)
	if !ok {
		var v T
		exceptions.Panicf("arrays.ToScalar[%T] is incompatible with Array's dtype %s", v, a.shape.DType)
	}
	if len(flat) != 1 {
		exceptions.Panicf("arrays.ToScalar requires an Array with one element, got shape %s", a.shape)
	}
	return flat[0]
}

// Clone returns a deep copy of the Array.
func (a *Array) Clone() *Array {
	return &Array{shape: a.shape.Clone(), flat: kernels.Clone(a.flat)}
}

// Value returns a multidimensional slice (or the scalar value for rank 0) with a copy of the values.
func (a *Array) Value() any {
	return kernels.Unflatten(kernels.Clone(a.flat), a.shape.Dimensions)
}

// Cast returns a new Array with the values converted to dtype.
// Only numeric dtypes can be cast.
func (a *Array) Cast(dtype dtypes.DType) (*Array, error) {
	flat, err := kernels.Cast(a.flat, dtype)
	if err != nil {
		return nil, errors.WithMessagef(err, "casting Array %s", a.shape)
	}
	return &Array{shape: a.shape.WithDType(dtype), flat: flat}, nil
}

// Add returns a + other, elementwise. Both must have the same shape.
func (a *Array) Add(other *Array) (*Array, error) {
	if !a.shape.Equal(other.shape) {
		return nil, errors.Errorf("Array.Add: mismatched shapes %s and %s", a.shape, other.shape)
	}
	flat, err := kernels.Add(a.flat, other.flat)
	if err != nil {
		return nil, err
	}
	return &Array{shape: a.shape.Clone(), flat: flat}, nil
}

// DivScalar returns a / divisor, elementwise. Only float and complex arrays are supported.
func (a *Array) DivScalar(divisor float64) (*Array, error) {
	flat, err := kernels.Div(a.flat, divisor)
	if err != nil {
		return nil, err
	}
	return &Array{shape: a.shape.Clone(), flat: flat}, nil
}

// Equal checks whether a and other have the same shape and values.
func (a *Array) Equal(other *Array) bool {
	if a == other {
		return true
	}
	if a == nil || other == nil || !a.shape.Equal(other.shape) {
		return false
	}
	return reflect.DeepEqual(a.flat, other.flat)
}

// InDelta checks whether a and other have the same shape and all values are within delta.
func (a *Array) InDelta(other *Array, delta float64) bool {
	if a == other {
		return true
	}
	if a == nil || other == nil || !a.shape.Equal(other.shape) {
		return false
	}
	return xslices.SlicesInDelta(a.flat, other.flat, delta)
}

// StringDefaultPrecision used by Array.String.
const StringDefaultPrecision = 4

// String implements fmt.Stringer.
func (a *Array) String() string {
	if a == nil {
		return "Array(nil)"
	}
	return fmt.Sprintf("Array%s", kernels.Format(a.flat, a.shape.Dimensions, StringDefaultPrecision))
}

// GobSerialize Array in binary format.
//
// Arrays of the dtype Object can only be serialized if the concrete types they hold were registered
// with gob.Register.
func (a *Array) GobSerialize(encoder *gob.Encoder) error {
	if err := a.shape.GobSerialize(encoder); err != nil {
		return err
	}
	if err := encoder.Encode(a.flat); err != nil {
		return errors.Wrapf(err, "failed to serialize Array %s data", a.shape)
	}
	return nil
}

// GobDeserialize an Array from the decoder.
func GobDeserialize(decoder *gob.Decoder) (*Array, error) {
	shape, err := shapes.GobDeserialize(decoder)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to deserialize Array shape")
	}
	flatPtrV := reflect.New(reflect.SliceOf(shape.DType.GoType()))
	if err = decoder.Decode(flatPtrV.Interface()); err != nil {
		return nil, errors.Wrapf(err, "failed to deserialize Array %s data", shape)
	}
	flat := flatPtrV.Elem().Interface()
	if kernels.Len(flat) != shape.Size() {
		if shape.Size() == 0 {
			flat = kernels.Make(shape.DType, 0)
		} else {
			return nil, errors.Errorf("deserialized Array %s has %d elements", shape, kernels.Len(flat))
		}
	}
	return &Array{shape: shape, flat: flat}, nil
}
