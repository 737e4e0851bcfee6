// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implement a `Tensor`, the "tensor space" representation of a multidimensional array.
//
// Tensors are multidimensional arrays (from scalar with 0 dimensions, to arbitrarily large dimensions), defined
// by their shape (a data type and its axes' dimensions), their content, the device they are placed on, and
// whether they are attached to a computation graph (see Tensor.RequiresGrad).
//
// Contrary to arrays.Array, tensors never hold the opaque dtypes (dtypes.String and dtypes.Object).
//
// There are various ways to construct a Tensor from local data:
//
//   - FromShape(shape shapes.Shape): creates a tensor with the given shape, and zero values.
//
//   - FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int): creates a Tensor with the
//     given dimensions, filled with the scalar value given.
//
//   - FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int): creates a Tensor with the
//     given dimensions and set the flattened values with the given data. Example:
//
//     t := FromFlatDataAndDimensions([]int8{1, 2, 3, 4}, 2, 2}) // Tensor with [[1,2], [3,4]]
//
//   - FromAnyValue(value any): takes a scalar or an arbitrary multidimensional slice. Slices of rank > 1 must
//     be regular, that is all the sub-slices must have the same shape. Example:
//
//     t, err := FromAnyValue([][]float32{{1,2}, {3, 5}, {7, 11}})
//
//   - FromArray(a *arrays.Array, device DeviceNum): copies the content of a host array.
//
// Devices:
//
// A DeviceNum identifies where a tensor is placed. The values are always materialized in Go memory, the device
// is carried along so that the results of operations on a tensor (e.g. a collective reduction) can be placed on
// the same device as their inputs. Use Tensor.To to move a tensor and Tensor.ToHost to obtain a detached host copy.
package tensors

import (
	"sync"

	"github.com/gomlx/syncmetrics/pkg/core/dtypes"
	"github.com/gomlx/syncmetrics/pkg/core/shapes"
	"github.com/pkg/errors"
)

// DeviceNum identifies the device a tensor is placed on. HostDevice is the default.
type DeviceNum int

// HostDevice is the default device of a tensor.
const HostDevice DeviceNum = 0

// Tensor represents a multidimensional array, defined by its shape, a data type (dtypes.DType) and its axes'
// dimensions, and its actual content stored as a flat (1D) slice of values.
//
// It is safe for concurrent use: the storage is guarded by a mutex. The shape is considered immutable.
type Tensor struct {
	// shape of the tensor.
	shape shapes.Shape

	// mu protects the local data and the flags, but not the shape, which is considered immutable (only changed
	// when Tensor is finalized).
	mu sync.Mutex

	// local storage tensor.
	local *local

	// device where the tensor is placed.
	device DeviceNum

	// requiresGrad marks the tensor as attached to a computation graph.
	requiresGrad bool
}

// newEmptyTensor returns a Tensor object initialized only with the shape, but no actual storage.
// The returned tensor is invalid, and some data must be associated with it still.
func newEmptyTensor(shape shapes.Shape) *Tensor {
	return &Tensor{
		shape: shape,
	}
}

// Shape of the tensor, includes DType.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType returns the DType of the tensor's shape.
// It is a shortcut to `Tensor.Shape().DType`.
func (t *Tensor) DType() dtypes.DType {
	if t == nil {
		return dtypes.InvalidDType
	}
	return t.shape.DType
}

// Rank returns the rank of the tensor's shape.
// It is a shortcut to `Tensor.Shape().Rank()`.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// IsScalar returns whether the tensor represents a scalar value.
// It is a shortcut to `Tensor.Shape().IsScalar()`.
func (t *Tensor) IsScalar() bool { return t.shape.IsScalar() }

// Size returns the number of elements in the tensor.
// It is a shortcut to `Tensor.Shape().Size()`.
func (t *Tensor) Size() int { return t.shape.Size() }

// Memory returns the number of bytes used to store the tensor. An alias to Tensor.Shape().Memory().
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// Device returns the device where the tensor is placed.
func (t *Tensor) Device() DeviceNum {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.device
}

// RequiresGrad returns whether the tensor is attached to a computation graph.
func (t *Tensor) RequiresGrad() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requiresGrad
}

// SetRequiresGrad attaches (or detaches) the tensor to a computation graph.
// It returns the tensor itself, so it can be chained.
func (t *Tensor) SetRequiresGrad(requiresGrad bool) *Tensor {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requiresGrad = requiresGrad
	return t
}

// Ok returns whether the Tensor is in a valid state: it is not nil, and it hasn't been finalized.
func (t *Tensor) Ok() bool {
	return t != nil && t.shape.Ok() && !t.local.IsFinalized()
}

// CheckValid returns an error if it's nil, has been finalized, or if its shape is invalid.
func (t *Tensor) CheckValid() error {
	if t == nil {
		return errors.New("Tensor is nil")
	}
	if !t.shape.Ok() {
		return errors.New("Tensor shape is invalid")
	}
	if t.local.IsFinalized() {
		return errors.New("Tensor has been finalized")
	}
	return nil
}

// AssertValid panics if it's nil, has been finalized, or if its shape is invalid.
func (t *Tensor) AssertValid() {
	err := t.CheckValid()
	if err != nil {
		panic(err)
	}
}

// FinalizeAll immediately frees all associated data and leave Tensor in an invalid state.
//
// It's the caller's responsibility to ensure the tensor is not being used elsewhere.
func (t *Tensor) FinalizeAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.Ok() {
		// Likely already finalized, no-op.
		return
	}
	t.local.Finalize()
	t.local = nil
	t.shape = shapes.Invalid()
	t.requiresGrad = false
}
