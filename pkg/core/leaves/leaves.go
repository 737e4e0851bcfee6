// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package leaves defines the closed set of leaf value kinds that can be converted between representations:
// Go numeric scalars, host arrays (*arrays.Array) and tensors (*tensors.Tensor).
//
// Anything else (containers, strings, structs, nil) is not a leaf.
package leaves

import (
	"fmt"

	"github.com/gomlx/syncmetrics/pkg/core/arrays"
	"github.com/gomlx/syncmetrics/pkg/core/tensors"
	"github.com/gomlx/syncmetrics/pkg/support/sets"
	"github.com/x448/float16"
)

// Kind of leaf value.
type Kind int

const (
	// Scalar is a Go numeric value (int*, uint*, float16.Float16, float32, float64, complex64 or complex128)
	// or a bool.
	Scalar Kind = iota

	// Array is an *arrays.Array.
	Array

	// Tensor is a *tensors.Tensor.
	Tensor
)

var kindNames = []string{"Scalar", "Array", "Tensor"}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// KindSet is a set of leaf kinds, used to select which leaves are visited when traversing collections.
type KindSet = sets.Set[Kind]

// AllKinds returns a new KindSet with all leaf kinds.
func AllKinds() KindSet {
	return sets.MakeWith(Scalar, Array, Tensor)
}

// TensorsOnly returns a new KindSet with only the Tensor kind.
func TensorsOnly() KindSet {
	return sets.MakeWith(Tensor)
}

// KindOf returns the kind of the leaf value, and whether it is a leaf at all.
//
// A nil *arrays.Array or *tensors.Tensor is not a leaf.
func KindOf(value any) (Kind, bool) {
	switch v := value.(type) {
	case *tensors.Tensor:
		return Tensor, v != nil
	case *arrays.Array:
		return Array, v != nil
	case bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float16.Float16, float32, float64,
		complex64, complex128:
		return Scalar, true
	default:
		return Scalar, false
	}
}

// IsIn returns whether value is a leaf of one of the given kinds.
func IsIn(value any, kinds KindSet) bool {
	kind, ok := KindOf(value)
	return ok && kinds.Has(kind)
}

// ScalarFlat returns the scalar value as a flat slice with one element (e.g. float32(1) -> []float32{1}).
// It returns false if value is not a scalar.
func ScalarFlat(value any) (flat any, ok bool) {
	switch v := value.(type) {
	case bool:
		return []bool{v}, true
	case int:
		return []int{v}, true
	case int8:
		return []int8{v}, true
	case int16:
		return []int16{v}, true
	case int32:
		return []int32{v}, true
	case int64:
		return []int64{v}, true
	case uint:
		return []uint{v}, true
	case uint8:
		return []uint8{v}, true
	case uint16:
		return []uint16{v}, true
	case uint32:
		return []uint32{v}, true
	case uint64:
		return []uint64{v}, true
	case float16.Float16:
		return []float16.Float16{v}, true
	case float32:
		return []float32{v}, true
	case float64:
		return []float64{v}, true
	case complex64:
		return []complex64{v}, true
	case complex128:
		return []complex128{v}, true
	}
	return nil, false
}
