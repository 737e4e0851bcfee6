// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package kernels implements the elementwise numeric operations shared by arrays and tensors.
//
// All functions work on "flat" values: a Go slice of the type corresponding to a dtypes.DType
// (e.g. []float32 for dtypes.Float32), and they always return newly allocated slices -- the inputs
// are never modified.
package kernels

import (
	"reflect"

	"github.com/gomlx/syncmetrics/pkg/core/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
	"gonum.org/v1/gonum/floats"
)

// realNumber are the native Go types with an order: integers and floats.
type realNumber interface {
	constraints.Integer | constraints.Float
}

// Make returns a zero-initialized flat slice for the dtype with the given number of elements.
func Make(dtype dtypes.DType, size int) any {
	return reflect.MakeSlice(reflect.SliceOf(dtype.GoType()), size, size).Interface()
}

// Clone returns a copy of the flat slice.
func Clone(flat any) any {
	flatV := reflect.ValueOf(flat)
	size := flatV.Len()
	cloneV := reflect.MakeSlice(flatV.Type(), size, size)
	reflect.Copy(cloneV, flatV)
	return cloneV.Interface()
}

// Len returns the number of elements in the flat slice.
func Len(flat any) int {
	return reflect.ValueOf(flat).Len()
}

func checkCompatible(opName string, a, b any) (dtypes.DType, error) {
	dtypeA, dtypeB := dtypes.FromFlat(a), dtypes.FromFlat(b)
	if dtypeA != dtypeB {
		return dtypes.InvalidDType, errors.Errorf("%s: mismatched dtypes %s and %s", opName, dtypeA, dtypeB)
	}
	if !dtypeA.IsNumeric() {
		return dtypes.InvalidDType, errors.Errorf("%s: dtype %s is not numeric", opName, dtypeA)
	}
	if lenA, lenB := Len(a), Len(b); lenA != lenB {
		return dtypes.InvalidDType, errors.Errorf("%s: mismatched sizes %d and %d", opName, lenA, lenB)
	}
	return dtypeA, nil
}

func addSlices[T realNumber | constraints.Complex](a, b []T) []T {
	out := make([]T, len(a))
	for ii := range a {
		out[ii] = a[ii] + b[ii]
	}
	return out
}

// Add returns a + b, elementwise. Both must be flat slices of the same numeric dtype and length.
func Add(a, b any) (any, error) {
	dtype, err := checkCompatible("Add", a, b)
	if err != nil {
		return nil, err
	}
	switch aT := a.(type) {
	case []float64:
		out := make([]float64, len(aT))
		return floats.AddTo(out, aT, b.([]float64)), nil
	case []float32:
		return addSlices(aT, b.([]float32)), nil
	case []float16.Float16:
		bT := b.([]float16.Float16)
		out := make([]float16.Float16, len(aT))
		for ii := range aT {
			out[ii] = float16.Fromfloat32(aT[ii].Float32() + bT[ii].Float32())
		}
		return out, nil
	case []int64:
		return addSlices(aT, b.([]int64)), nil
	case []int32:
		return addSlices(aT, b.([]int32)), nil
	case []int16:
		return addSlices(aT, b.([]int16)), nil
	case []int8:
		return addSlices(aT, b.([]int8)), nil
	case []uint64:
		return addSlices(aT, b.([]uint64)), nil
	case []uint32:
		return addSlices(aT, b.([]uint32)), nil
	case []uint16:
		return addSlices(aT, b.([]uint16)), nil
	case []uint8:
		return addSlices(aT, b.([]uint8)), nil
	case []complex64:
		return addSlices(aT, b.([]complex64)), nil
	case []complex128:
		return addSlices(aT, b.([]complex128)), nil
	}
	return nil, errors.Errorf("Add: dtype %s not supported", dtype)
}

// Div returns flat / divisor, elementwise. Only float and complex dtypes are supported: integer values
// must be cast to a float dtype first.
func Div(flat any, divisor float64) (any, error) {
	switch flatT := flat.(type) {
	case []float64:
		out := make([]float64, len(flatT))
		for ii, v := range flatT {
			out[ii] = v / divisor
		}
		return out, nil
	case []float32:
		out := make([]float32, len(flatT))
		d := float32(divisor)
		for ii, v := range flatT {
			out[ii] = v / d
		}
		return out, nil
	case []float16.Float16:
		out := make([]float16.Float16, len(flatT))
		d := float32(divisor)
		for ii, v := range flatT {
			out[ii] = float16.Fromfloat32(v.Float32() / d)
		}
		return out, nil
	case []complex64:
		out := make([]complex64, len(flatT))
		d := complex(float32(divisor), 0)
		for ii, v := range flatT {
			out[ii] = v / d
		}
		return out, nil
	case []complex128:
		out := make([]complex128, len(flatT))
		d := complex(divisor, 0)
		for ii, v := range flatT {
			out[ii] = v / d
		}
		return out, nil
	}
	return nil, errors.Errorf("Div: dtype %s not supported, only float and complex values can be divided",
		dtypes.FromFlat(flat))
}

func convertSlice[From, To realNumber](from []From) []To {
	out := make([]To, len(from))
	for ii, v := range from {
		out[ii] = To(v)
	}
	return out
}

func castReal[From realNumber](from []From, to dtypes.DType) (any, error) {
	switch to {
	case dtypes.Float64:
		return convertSlice[From, float64](from), nil
	case dtypes.Float32:
		return convertSlice[From, float32](from), nil
	case dtypes.Int64:
		return convertSlice[From, int64](from), nil
	case dtypes.Int32:
		return convertSlice[From, int32](from), nil
	case dtypes.Int16:
		return convertSlice[From, int16](from), nil
	case dtypes.Int8:
		return convertSlice[From, int8](from), nil
	case dtypes.Uint64:
		return convertSlice[From, uint64](from), nil
	case dtypes.Uint32:
		return convertSlice[From, uint32](from), nil
	case dtypes.Uint16:
		return convertSlice[From, uint16](from), nil
	case dtypes.Uint8:
		return convertSlice[From, uint8](from), nil
	case dtypes.Complex128:
		out := make([]complex128, len(from))
		for ii, v := range from {
			out[ii] = complex(float64(v), 0)
		}
		return out, nil
	case dtypes.Complex64:
		out := make([]complex64, len(from))
		for ii, v := range from {
			out[ii] = complex(float32(v), 0)
		}
		return out, nil
	}
	return nil, errors.Errorf("Cast: cannot cast to dtype %s", to)
}

// realParts returns the real component of complex values as float64.
func realParts[C constraints.Complex](from []C) []float64 {
	out := make([]float64, len(from))
	for ii, v := range from {
		out[ii] = real(complex128(v))
	}
	return out
}

// Cast converts the flat slice to the given numeric dtype. Complex values cast to real dtypes keep
// only their real part. It always returns a new slice, even if the dtype is unchanged.
func Cast(flat any, to dtypes.DType) (any, error) {
	from := dtypes.FromFlat(flat)
	if !from.IsNumeric() {
		return nil, errors.Errorf("Cast: source dtype %s is not numeric", from)
	}
	if !to.IsNumeric() {
		return nil, errors.Errorf("Cast: target dtype %s is not numeric", to)
	}
	if from == to {
		return Clone(flat), nil
	}
	if to == dtypes.Float16 {
		f32, err := Cast(flat, dtypes.Float32)
		if err != nil {
			return nil, err
		}
		f32T := f32.([]float32)
		out := make([]float16.Float16, len(f32T))
		for ii, v := range f32T {
			out[ii] = float16.Fromfloat32(v)
		}
		return out, nil
	}
	switch flatT := flat.(type) {
	case []float16.Float16:
		f32 := make([]float32, len(flatT))
		for ii, v := range flatT {
			f32[ii] = v.Float32()
		}
		return castReal(f32, to)
	case []complex64:
		if to == dtypes.Complex128 {
			out := make([]complex128, len(flatT))
			for ii, v := range flatT {
				out[ii] = complex128(v)
			}
			return out, nil
		}
		return castReal(realParts(flatT), to)
	case []complex128:
		if to == dtypes.Complex64 {
			out := make([]complex64, len(flatT))
			for ii, v := range flatT {
				out[ii] = complex64(v)
			}
			return out, nil
		}
		return castReal(realParts(flatT), to)
	case []float64:
		return castReal(flatT, to)
	case []float32:
		return castReal(flatT, to)
	case []int64:
		return castReal(flatT, to)
	case []int32:
		return castReal(flatT, to)
	case []int16:
		return castReal(flatT, to)
	case []int8:
		return castReal(flatT, to)
	case []uint64:
		return castReal(flatT, to)
	case []uint32:
		return castReal(flatT, to)
	case []uint16:
		return castReal(flatT, to)
	case []uint8:
		return castReal(flatT, to)
	}
	return nil, errors.Errorf("Cast: dtype %s not supported", from)
}

// Normalize converts slices of the platform dependent Go types `int` and `uint` to their fixed-width
// counterpart ([]int64 or []int32, []uint64 or []uint32). Other slices are returned as is.
func Normalize(flat any) any {
	switch flatT := flat.(type) {
	case []int:
		if dtypes.FromGenericsType[int]() == dtypes.Int32 {
			return convertSlice[int, int32](flatT)
		}
		return convertSlice[int, int64](flatT)
	case []uint:
		if dtypes.FromGenericsType[uint]() == dtypes.Uint32 {
			return convertSlice[uint, uint32](flatT)
		}
		return convertSlice[uint, uint64](flatT)
	}
	return flat
}
