// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package convert converts leaf values (see package leaves) between the array space (*arrays.Array) and the
// tensor space (*tensors.Tensor).
//
// Scalars are converted to one-element values of shape [1]. Arrays of the opaque dtypes (strings and
// objects) can not be converted to tensors.
package convert

import (
	"github.com/gomlx/syncmetrics/pkg/core/arrays"
	"github.com/gomlx/syncmetrics/pkg/core/collections"
	"github.com/gomlx/syncmetrics/pkg/core/dtypes"
	"github.com/gomlx/syncmetrics/pkg/core/leaves"
	"github.com/gomlx/syncmetrics/pkg/core/tensors"
	"github.com/pkg/errors"
)

// ErrUnsupportedConversion is returned (wrapped) when a value can not be converted to the requested representation.
// Test for it with errors.Is.
var ErrUnsupportedConversion = errors.New("unsupported conversion")

// Option configures ToTensor.
type Option func(o *options)

type options struct {
	dtype     dtypes.DType
	device    tensors.DeviceNum
	hasDevice bool
}

// WithDType casts the converted tensor to dtype.
func WithDType(dtype dtypes.DType) Option {
	return func(o *options) { o.dtype = dtype }
}

// WithDevice places the converted tensor on device.
func WithDevice(device tensors.DeviceNum) Option {
	return func(o *options) {
		o.device = device
		o.hasDevice = true
	}
}

func buildOptions(opts []Option) *options {
	o := &options{dtype: dtypes.InvalidDType}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ToTensor converts value to a tensor:
//
//   - Scalar: a tensor of shape [1] with the value.
//   - *arrays.Array: a tensor built from a copy of its data. Opaque dtypes fail with ErrUnsupportedConversion.
//   - *tensors.Tensor: the tensor itself, or a copy if WithDType or WithDevice require a change.
//   - Anything else: fails with ErrUnsupportedConversion.
func ToTensor(value any, opts ...Option) (*tensors.Tensor, error) {
	o := buildOptions(opts)
	device := tensors.HostDevice
	if o.hasDevice {
		device = o.device
	}
	kind, ok := leaves.KindOf(value)
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedConversion, "value of type %T can not be converted to a tensor", value)
	}
	var t *tensors.Tensor
	switch kind {
	case leaves.Scalar:
		flat, _ := leaves.ScalarFlat(value)
		var err error
		t, err = tensors.FromFlatAny(flat, 1)
		if err != nil {
			return nil, errors.WithMessagef(err, "converting scalar %v to a tensor", value)
		}
	case leaves.Array:
		a := value.(*arrays.Array)
		if a.IsOpaque() {
			return nil, errors.Wrapf(ErrUnsupportedConversion, "Array of opaque dtype %s can not be converted to a tensor",
				a.DType())
		}
		var err error
		t, err = tensors.FromArray(a, device)
		if err != nil {
			return nil, err
		}
	case leaves.Tensor:
		t = value.(*tensors.Tensor)
		if !o.hasDevice {
			device = t.Device()
		}
	}

	converted, err := t.To(o.dtype, device)
	if err != nil {
		return nil, errors.WithMessagef(err, "converting %s to dtype=%s, device=%d", t.Shape(), o.dtype, device)
	}
	return converted, nil
}

// ToArray converts value to a host array:
//
//   - *tensors.Tensor: a detached host copy.
//   - Scalar: an array of shape [1] with the value.
//   - *arrays.Array: the array itself, including arrays of the opaque dtypes.
//   - Anything else: fails with ErrUnsupportedConversion.
func ToArray(value any) (*arrays.Array, error) {
	kind, ok := leaves.KindOf(value)
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedConversion, "value of type %T can not be converted to an array", value)
	}
	switch kind {
	case leaves.Tensor:
		return value.(*tensors.Tensor).Detach().ToHost()
	case leaves.Scalar:
		flat, _ := leaves.ScalarFlat(value)
		a, err := arrays.FromFlatAny(flat, 1)
		if err != nil {
			return nil, errors.WithMessagef(err, "converting scalar %v to an array", value)
		}
		return a, nil
	default:
		return value.(*arrays.Array), nil
	}
}

// MustToTensor is like ToTensor, but panics on error.
func MustToTensor(value any, opts ...Option) *tensors.Tensor {
	t, err := ToTensor(value, opts...)
	if err != nil {
		panic(err)
	}
	return t
}

// MustToArray is like ToArray, but panics on error.
func MustToArray(value any) *arrays.Array {
	a, err := ToArray(value)
	if err != nil {
		panic(err)
	}
	return a
}

// TensorLeaf returns ToTensor as a collections.LeafFn.
func TensorLeaf(opts ...Option) collections.LeafFn {
	return func(leaf any) (any, error) {
		return ToTensor(leaf, opts...)
	}
}

// ArrayLeaf returns ToArray as a collections.LeafFn.
func ArrayLeaf() collections.LeafFn {
	return func(leaf any) (any, error) {
		return ToArray(leaf)
	}
}
