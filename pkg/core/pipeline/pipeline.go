// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package pipeline wraps computation functions so that they receive their inputs in one value space
// (arrays or tensors) and return their outputs in another, whatever the caller passes.
//
// A Func takes positional arguments and keyword arguments, each possibly nested collections (see package
// collections). The input conversion is applied separately to the positional arguments and to the keyword
// argument values (keys are never converted). The output conversion is applied to the whole returned value.
package pipeline

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/syncmetrics/pkg/core/collections"
	"github.com/gomlx/syncmetrics/pkg/core/convert"
	"github.com/gomlx/syncmetrics/pkg/core/leaves"
	"github.com/pkg/errors"
)

// Func is a computation function over positional and keyword arguments, returning a possibly nested value.
type Func func(args []any, kwargs map[string]any) (any, error)

// Call fn, returning as error a panic with an error. Other panics are propagated.
func Call(fn Func, args []any, kwargs map[string]any) (result any, err error) {
	panicErr := exceptions.TryCatch[error](func() {
		result, err = fn(args, kwargs)
	})
	if panicErr != nil {
		return nil, panicErr
	}
	return
}

// ApplyToInputs returns a Func that converts the leaves of kinds of the arguments with leafFn before calling fn.
func ApplyToInputs(fn Func, kinds leaves.KindSet, leafFn collections.LeafFn) Func {
	return func(args []any, kwargs map[string]any) (any, error) {
		convertedArgs, err := collections.Map([]any(args), kinds, leafFn)
		if err != nil {
			return nil, errors.WithMessage(err, "converting positional arguments")
		}
		var convertedKwargs any = map[string]any(nil)
		if kwargs != nil {
			convertedKwargs, err = collections.Map(kwargs, kinds, leafFn)
			if err != nil {
				return nil, errors.WithMessage(err, "converting keyword arguments")
			}
		}
		return Call(fn, convertedArgs.([]any), convertedKwargs.(map[string]any))
	}
}

// ApplyToOutputs returns a Func that converts the leaves of kinds of fn's result with leafFn.
func ApplyToOutputs(fn Func, kinds leaves.KindSet, leafFn collections.LeafFn) Func {
	return func(args []any, kwargs map[string]any) (any, error) {
		result, err := Call(fn, args, kwargs)
		if err != nil {
			return nil, err
		}
		converted, err := collections.Map(result, kinds, leafFn)
		if err != nil {
			return nil, errors.WithMessage(err, "converting outputs")
		}
		return converted, nil
	}
}

// Wrap fn with the input conversion in and output conversion out, applied to all leaf kinds.
func Wrap(fn Func, in, out collections.LeafFn) Func {
	return ApplyToOutputs(ApplyToInputs(fn, leaves.AllKinds(), in), leaves.AllKinds(), out)
}

// ArraySpace wraps fn so that its inputs are arrays and its outputs are tensors.
func ArraySpace(fn Func, opts ...convert.Option) Func {
	return Wrap(fn, convert.ArrayLeaf(), convert.TensorLeaf(opts...))
}

// TensorSpace wraps fn so that its inputs and outputs are tensors.
func TensorSpace(fn Func, opts ...convert.Option) Func {
	return Wrap(fn, convert.TensorLeaf(opts...), convert.TensorLeaf(opts...))
}

// TensorCollection wraps fn so that its inputs are tensors, and every leaf of its (possibly nested)
// result is converted to a tensor, preserving the result's containers.
//
// It behaves like TensorSpace: its name documents functions returning composite results, like a mapping
// of named metrics.
func TensorCollection(fn Func, opts ...convert.Option) Func {
	return TensorSpace(fn, opts...)
}
