// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"encoding/gob"
	"fmt"
	"reflect"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/syncmetrics/internal/kernels"
	"github.com/gomlx/syncmetrics/pkg/core/arrays"
	"github.com/gomlx/syncmetrics/pkg/core/dtypes"
	"github.com/gomlx/syncmetrics/pkg/core/shapes"
	"github.com/gomlx/syncmetrics/pkg/support/xslices"
	"github.com/pkg/errors"
)

// local storage for a Tensor.
type local struct {
	// flat holds the array with actual data. It's owned by local.
	flat any // Slice of the type for the dtype of the given shape.
}

// IsFinalized returns true if the storage has already been "finalized", and its data freed.
func (l *local) IsFinalized() bool {
	return l == nil || l.flat == nil
}

// Finalize releases the memory associated with the local storage.
func (l *local) Finalize() {
	if l == nil {
		return
	}
	l.flat = nil
}

// checkTensorDType returns an error if the dtype can not be held by a tensor.
func checkTensorDType(dtype dtypes.DType) error {
	if !dtype.IsSupported() {
		return errors.Errorf("dtype %s not supported by tensors", dtype)
	}
	if dtype.IsOpaque() {
		return errors.Errorf("tensors can not hold values of the opaque dtype %s", dtype)
	}
	return nil
}

// newWithFlat creates a tensor owning the given flat data, without copying.
func newWithFlat(shape shapes.Shape, flat any, device DeviceNum) *Tensor {
	t := newEmptyTensor(shape)
	t.local = &local{flat: flat}
	t.device = device
	return t
}

// FromShape returns a Tensor with the given shape, with the data initialized with zeros.
//
// It panics if you provide an invalid shape, or a shape with an opaque dtype.
func FromShape(shape shapes.Shape) *Tensor {
	if !shape.Ok() {
		panic(errors.New("invalid shape"))
	}
	if err := checkTensorDType(shape.DType); err != nil {
		panic(err)
	}
	return newWithFlat(shape.Clone(), kernels.Make(shape.DType, shape.Size()), HostDevice)
}

// FromScalar creates a local tensor with the given scalar.
// The `DType` is inferred from the value.
func FromScalar[T dtypes.Supported](value T) (t *Tensor) {
	return FromScalarAndDimensions(value)
}

// FromScalarAndDimensions creates a local tensor with the given dimensions, filled with the
// given scalar value replicated everywhere.
// The `DType` is inferred from the value.
func FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int) *Tensor {
	size := shapes.Make(dtypes.Bool, dimensions...).Size()
	return FromFlatDataAndDimensions(xslices.SliceWithValue(size, value), dimensions...)
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions, filled with the flattened values given in `data`.
// The data is copied to the Tensor.
// The `DType` is inferred from the `data` type.
//
// It panics if the size of data is wrong for the shape, or if T is an opaque type (string).
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) *Tensor {
	t, err := FromFlatAny(data, dimensions...)
	if err != nil {
		panic(err)
	}
	return t
}

// FromFlatAny is the non-generic version of FromFlatDataAndDimensions. The data is copied.
//
// It returns an error if flat is not a slice of a type supported by tensors, or if its size doesn't match the
// dimensions.
func FromFlatAny(flat any, dimensions ...int) (*Tensor, error) {
	dtype := dtypes.FromFlat(flat)
	if err := checkTensorDType(dtype); err != nil {
		return nil, errors.WithMessagef(err, "tensors.FromFlatAny(%T)", flat)
	}
	for _, dim := range dimensions {
		if dim < 0 {
			return nil, errors.Errorf("tensors.FromFlatAny: negative dimension in %v", dimensions)
		}
	}
	shape := shapes.Make(dtype, dimensions...)
	if n := kernels.Len(flat); n != shape.Size() {
		return nil, errors.Errorf("tensors.FromFlatAny(%s): data size is %d, but dimensions size is %d",
			shape, n, shape.Size())
	}
	normalized := kernels.Normalize(flat)
	if reflect.TypeOf(normalized) == reflect.TypeOf(flat) {
		normalized = kernels.Clone(flat)
	}
	return newWithFlat(shape, normalized, HostDevice), nil
}

// FromArray creates a tensor on the given device, with a copy of the contents of the host array.
//
// It returns an error for arrays of the opaque dtypes.
func FromArray(a *arrays.Array, device DeviceNum) (*Tensor, error) {
	if a == nil {
		return nil, errors.New("tensors.FromArray: nil Array")
	}
	if err := checkTensorDType(a.DType()); err != nil {
		return nil, errors.WithMessagef(err, "tensors.FromArray(%s)", a.Shape())
	}
	return newWithFlat(a.Shape().Clone(), kernels.Clone(a.Flat()), device), nil
}

// FromAnyValue returns a tensor constructed from the given multidimensional slice (or scalar).
// If the rank of the `value` is larger than 1, the shape of all sub-slices must be the same.
// If the value is a tensor already, it is simply returned.
//
// Notice that FromFlatDataAndDimensions is much faster if speed here is a concern.
func FromAnyValue(value any) (*Tensor, error) {
	if valueT, ok := value.(*Tensor); ok {
		return valueT, nil
	}
	shape, err := shapeForValue(value)
	if err != nil {
		return nil, errors.WithMessagef(err, "cannot create shape from %T", value)
	}
	flatV := reflect.MakeSlice(reflect.SliceOf(baseType(reflect.TypeOf(value))), shape.Size(), shape.Size())
	if shape.IsScalar() {
		flatV.Index(0).Set(reflect.ValueOf(value))
	} else if shape.Size() > 0 {
		copySlicesRecursively(flatV, reflect.ValueOf(value), layoutStrides(shape.Dimensions))
	}
	return FromFlatAny(flatV.Interface(), shape.Dimensions...)
}

// layoutStrides return the strides for each axis, for a row-major layout.
func layoutStrides(dimensions []int) []int {
	strides := make([]int, len(dimensions))
	stride := 1
	for axis := len(dimensions) - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= dimensions[axis]
	}
	return strides
}

// copySlicesRecursively copy values on a multi-dimension slice to a flat data slice
// assuming the strides for each dimension.
func copySlicesRecursively(data reflect.Value, mdSlice reflect.Value, strides []int) {
	if len(strides) == 1 {
		// Last level of slice, just copy over the slice.
		reflect.Copy(data, mdSlice)
		return
	}
	numElements := mdSlice.Len()
	for ii := 0; ii < numElements; ii++ {
		subData := data.Slice(ii*strides[0], (ii+1)*strides[0])
		copySlicesRecursively(subData, mdSlice.Index(ii), strides[1:])
	}
}

func shapeForValue(v any) (shapes.Shape, error) {
	var shape shapes.Shape
	if v == nil {
		return shape, errors.New("nil value")
	}
	err := shapeForValueRecursive(&shape, reflect.ValueOf(v), reflect.TypeOf(v))
	return shape, err
}

func shapeForValueRecursive(shape *shapes.Shape, v reflect.Value, t reflect.Type) error {
	switch t.Kind() {
	case reflect.Slice:
		// Recurse into inner slices.
		t = t.Elem()
		shape.Dimensions = append(shape.Dimensions, v.Len())
		shapePrefix := shape.Clone()
		if v.Len() == 0 {
			return errors.Errorf("value with empty slice not valid for Tensor conversion: %T -- "+
				"use FromShape to create tensors with zero-dimensions", v.Interface())
		}

		// The first element is the reference
		err := shapeForValueRecursive(shape, v.Index(0), t)
		if err != nil {
			return err
		}

		// Test that other elements have the same shape as the first one.
		for ii := 1; ii < v.Len(); ii++ {
			shapeTest := shapePrefix.Clone()
			err = shapeForValueRecursive(&shapeTest, v.Index(ii), t)
			if err != nil {
				return err
			}
			if !shape.Equal(shapeTest) {
				return errors.Errorf("sub-slices have irregular shapes, found shapes %q, and %q", shape, shapeTest)
			}
		}

	case reflect.Pointer:
		return errors.Errorf("cannot convert Pointer (%s) to a concrete value for tensors", t)

	default:
		shape.DType = dtypes.FromGoType(t)
		if err := checkTensorDType(shape.DType); err != nil {
			return errors.WithMessagef(err, "cannot convert type %s to a tensor", t)
		}
	}
	return nil
}

// baseType returns the underlying type of a multi-dimension slice. So `baseType([][]int{})` would return the
// type `int`.
func baseType(valueType reflect.Type) reflect.Type {
	for valueType.Kind() == reflect.Slice {
		valueType = valueType.Elem()
	}
	return valueType
}

// ConstFlatData calls accessFn with the flattened data as a slice of the Go type corresponding to the DType type.
// Even scalar values have a flattened data representation of one element.
// It locks the Tensor until accessFn returns.
//
// This provides accessFn with the actual Tensor data (not a copy), and it's owned by the Tensor, so it should not be
// changed. See Tensor.MutableFlatData to access a mutable version of the flat data.
func (t *Tensor) ConstFlatData(accessFn func(flat any)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.CheckValid(); err != nil {
		return err
	}
	accessFn(t.local.flat)
	return nil
}

// MustConstFlatData is like ConstFlatData, but panics on error.
func (t *Tensor) MustConstFlatData(accessFn func(flat any)) {
	if err := t.ConstFlatData(accessFn); err != nil {
		panic(err)
	}
}

// MutableFlatData calls accessFn with the flattened data as a slice of the Go type corresponding to the DType type,
// which can be modified in place. It locks the Tensor until accessFn returns.
func (t *Tensor) MutableFlatData(accessFn func(flat any)) error {
	return t.ConstFlatData(accessFn)
}

// ConstFlatData calls accessFn with the flattened data as a slice of the Go type T.
//
// It returns an error if T doesn't match the tensor's dtype.
func ConstFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) error {
	var accessErr error
	err := t.ConstFlatData(func(flatAny any) {
		flat, ok := flatAny.([]T)
		if !ok {
			var v T
			accessErr = errors.Errorf("ConstFlatData[%T] is incompatible with Tensor's dtype %s", v, t.shape.DType)
			return
		}
		accessFn(flat)
	})
	if err != nil {
		return err
	}
	return accessErr
}

// MustConstFlatData is like ConstFlatData, but panics on error.
func MustConstFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) {
	if err := ConstFlatData(t, accessFn); err != nil {
		panic(err)
	}
}

// MutableFlatData calls accessFn with the flattened data as a slice of the Go type T, which can be modified
// in place.
func MutableFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) error {
	return ConstFlatData(t, accessFn)
}

// CopyFlatData returns a copy of the flat data of the Tensor.
//
// It will panic if the given generic type doesn't match the DType of the tensor.
func CopyFlatData[T dtypes.Supported](t *Tensor) []T {
	var flatCopy []T
	MustConstFlatData(t, func(flat []T) {
		flatCopy = kernels.Clone(flat).([]T)
	})
	return flatCopy
}

// ToScalar returns the value of a tensor with exactly one element (a scalar or, e.g., shape [1]).
//
// It will panic if the given generic type doesn't match the DType of the tensor.
func ToScalar[T dtypes.Supported](t *Tensor) T {
	var value T
	MustConstFlatData(t, func(flat []T) {
		if len(flat) != 1 {
			exceptions.Panicf("ToScalar[%T] requires a Tensor with one element, got shape %s instead", value, t.shape)
		}
		value = flat[0]
	})
	return value
}

// Clone creates a copy of the Tensor, on the same device and with the same graph attachment.
func (t *Tensor) Clone() (*Tensor, error) {
	var clone *Tensor
	err := t.ConstFlatData(func(flat any) {
		clone = newWithFlat(t.shape.Clone(), kernels.Clone(flat), t.device)
		clone.requiresGrad = t.requiresGrad
	})
	if err != nil {
		return nil, err
	}
	return clone, nil
}

// Detach returns a tensor sharing the same storage but not attached to any computation graph.
// If the tensor is not attached, it is returned itself.
func (t *Tensor) Detach() *Tensor {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.requiresGrad {
		return t
	}
	detached := newWithFlat(t.shape, t.local.flat, t.device)
	return detached
}

// To returns the tensor with the given dtype and placed on the given device.
// A dtype of dtypes.InvalidDType keeps the current dtype.
// If neither changes, it returns t itself. Otherwise, it returns a new tensor, detached from
// any computation graph if the dtype changed.
func (t *Tensor) To(dtype dtypes.DType, device DeviceNum) (*Tensor, error) {
	if err := t.CheckValid(); err != nil {
		return nil, err
	}
	if dtype == dtypes.InvalidDType {
		dtype = t.shape.DType
	}
	if dtype == t.shape.DType && device == t.Device() {
		return t, nil
	}
	if err := checkTensorDType(dtype); err != nil {
		return nil, err
	}
	var (
		moved   *Tensor
		castErr error
	)
	err := t.ConstFlatData(func(flat any) {
		var converted any
		if dtype == t.shape.DType {
			converted = kernels.Clone(flat)
		} else {
			converted, castErr = kernels.Cast(flat, dtype)
			if castErr != nil {
				return
			}
		}
		moved = newWithFlat(t.shape.WithDType(dtype), converted, device)
		moved.requiresGrad = t.requiresGrad && dtype == t.shape.DType
	})
	if err != nil {
		return nil, err
	}
	if castErr != nil {
		return nil, errors.WithMessagef(castErr, "Tensor.To(%s, device=%d)", dtype, device)
	}
	return moved, nil
}

// ToHost returns a detached host copy of the tensor, as an arrays.Array.
func (t *Tensor) ToHost() (*arrays.Array, error) {
	var (
		a   *arrays.Array
		cpy error
	)
	err := t.ConstFlatData(func(flat any) {
		a, cpy = arrays.FromFlatAny(flat, t.shape.Dimensions...)
	})
	if err != nil {
		return nil, err
	}
	return a, cpy
}

// Add returns t + other, elementwise, placed on t's device. Both must have the same shape.
func (t *Tensor) Add(other *Tensor) (*Tensor, error) {
	if !t.shape.Equal(other.shape) {
		return nil, errors.Errorf("Tensor.Add: mismatched shapes %s and %s", t.shape, other.shape)
	}
	// Kernels never modify their inputs, so the flat references can be used outside the locks.
	var flat0, flat1 any
	if err := t.ConstFlatData(func(flat any) { flat0 = flat }); err != nil {
		return nil, err
	}
	if err := other.ConstFlatData(func(flat any) { flat1 = flat }); err != nil {
		return nil, err
	}
	sum, err := kernels.Add(flat0, flat1)
	if err != nil {
		return nil, err
	}
	return newWithFlat(t.shape.Clone(), sum, t.Device()), nil
}

// DivScalar returns t / divisor, elementwise. Only float and complex tensors are supported.
func (t *Tensor) DivScalar(divisor float64) (*Tensor, error) {
	var (
		quotient any
		divErr   error
	)
	err := t.ConstFlatData(func(flat any) {
		quotient, divErr = kernels.Div(flat, divisor)
	})
	if err != nil {
		return nil, err
	}
	if divErr != nil {
		return nil, divErr
	}
	return newWithFlat(t.shape.Clone(), quotient, t.Device()), nil
}

// Value returns a multidimensional slice (except if the shape is a scalar) containing a copy of the values stored
// in the tensor.
// This is expensive and usually only used for smaller tensors in tests and to print results.
//
// It panics if the tensor is invalid.
func (t *Tensor) Value() any {
	var mdSlice any
	t.MustConstFlatData(func(flat any) {
		mdSlice = kernels.Unflatten(kernels.Clone(flat), t.shape.Dimensions)
	})
	return mdSlice
}

// GobSerialize Tensor in binary format. The device and graph attachment are not serialized.
//
// It returns an error for I/O errors or invalid tensors.
func (t *Tensor) GobSerialize(encoder *gob.Encoder) error {
	if err := t.CheckValid(); err != nil {
		return err
	}
	err := t.shape.GobSerialize(encoder)
	if err != nil {
		return err
	}
	accessErr := t.ConstFlatData(func(flat any) {
		err = encoder.Encode(flat)
		if err != nil {
			err = errors.Wrapf(err, "failed to write Tensor data")
		}
	})
	if accessErr != nil {
		return accessErr
	}
	return err
}

// GobDeserialize a Tensor from the reader, placing it on the HostDevice.
func GobDeserialize(decoder *gob.Decoder) (*Tensor, error) {
	return GobDeserializeToDevice(decoder, HostDevice)
}

// GobDeserializeToDevice deserialize a Tensor from the reader, placing it on the given device.
func GobDeserializeToDevice(decoder *gob.Decoder, device DeviceNum) (*Tensor, error) {
	shape, err := shapes.GobDeserialize(decoder)
	if err != nil {
		err = errors.WithMessagef(err, "failed to deserialize Tensor shape data")
		return nil, err
	}
	if err = checkTensorDType(shape.DType); err != nil {
		return nil, err
	}
	flatPtrV := reflect.New(reflect.SliceOf(shape.DType.GoType()))
	err = decoder.Decode(flatPtrV.Interface())
	if err != nil {
		err = errors.Wrapf(err, "failed to deserialize Tensor data")
		return nil, err
	}
	flat := flatPtrV.Elem().Interface()
	if n := kernels.Len(flat); n != shape.Size() {
		if shape.Size() != 0 {
			return nil, errors.Errorf("deserialized Tensor %s has %d elements", shape, n)
		}
		flat = kernels.Make(shape.DType, 0)
	}
	// Build the new tensor from scratch, using the data returned by the decoder (to avoid a copy).
	return newWithFlat(shape, flat, device), nil
}

// Equal checks weather t == otherTensor.
// If they are the same pointer, they are considered equal.
// If the shapes are different, it returns false.
// If either side is invalid (nil), it panics.
//
// The device and graph attachment are not compared.
func (t *Tensor) Equal(otherTensor *Tensor) bool {
	t.AssertValid()
	otherTensor.AssertValid()

	if t == otherTensor {
		return true
	}
	if !t.shape.Equal(otherTensor.shape) {
		return false
	}
	// The locks are never held at the same time: a.Equal(b) and b.Equal(a) may run concurrently.
	var flat0 any
	t.MustConstFlatData(func(flat any) { flat0 = kernels.Clone(flat) })
	equal := true
	otherTensor.MustConstFlatData(func(flat1 any) {
		equal = reflect.DeepEqual(flat0, flat1)
	})
	return equal
}

// InDelta checks weather Abs(t - otherTensor) <= delta for every element.
// If they are the same pointer, they are considered equal.
// If the shapes are different, it returns false.
// If either is invalid (nil), it panics.
func (t *Tensor) InDelta(otherTensor *Tensor, delta float64) bool {
	t.AssertValid()
	otherTensor.AssertValid()

	if t == otherTensor {
		return true
	}
	if !t.shape.Equal(otherTensor.shape) {
		return false
	}
	if t.shape.IsZeroSize() {
		// If any of the axes is zero-dimensional, there is no data to compare.
		return true
	}
	var flat0 any
	t.MustConstFlatData(func(flat any) { flat0 = kernels.Clone(flat) })
	inDelta := true
	otherTensor.MustConstFlatData(func(flat1 any) {
		inDelta = xslices.SlicesInDelta(flat0, flat1, delta)
	})
	return inDelta
}

// TensorStringDefaultPrecision used by Tensor.String.
const TensorStringDefaultPrecision = 4

// String converts to string, if not too large. It uses t.Summary(precision=4).
func (t *Tensor) String() string {
	if t.CheckValid() != nil {
		return "Tensor(invalid)"
	}
	return t.Summary(TensorStringDefaultPrecision)
}

// Summary returns a multi-line summary of the Tensor's content.
// Inspired by numpy output.
func (t *Tensor) Summary(precision int) string {
	var summary string
	t.MustConstFlatData(func(flat any) {
		summary = kernels.Format(flat, t.shape.Dimensions, precision)
	})
	if t.Device() != HostDevice {
		summary = fmt.Sprintf("%s@device(%d)", summary, t.Device())
	}
	return summary
}

// GoStr converts to string, using a Go-syntax representation that can be copied&pasted back to code.
func (t *Tensor) GoStr() string {
	t.AssertValid()
	if t.Shape().IsZeroSize() {
		// For zero-dimensioned tensors (for some axis), we simply return the shape.
		return t.shape.String()
	}
	value := t.Value()
	if t.IsScalar() {
		return fmt.Sprintf("%s(%v)", t.shape.DType.GoStr(), value)
	}
	return fmt.Sprintf("%s: %s", t.shape, xslices.SliceToGoStr(value))
}
