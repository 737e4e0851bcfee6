// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"

	"github.com/x448/float16"
)

// Unflatten returns a multidimensional slice with the given dimensions pointing to the data in flat.
// For rank 0 it returns the single element, for rank 1 it returns flat itself.
func Unflatten(flat any, dimensions []int) any {
	flatV := reflect.ValueOf(flat)
	if len(dimensions) == 0 {
		return flatV.Index(0).Interface()
	}
	if len(dimensions) == 1 {
		return flat
	}
	resultT := flatV.Type().Elem()
	for range dimensions {
		resultT = reflect.SliceOf(resultT)
	}
	strides := make([]int, len(dimensions))
	currentStride := 1
	for axis := len(dimensions) - 1; axis >= 0; axis-- {
		strides[axis] = currentStride
		currentStride *= dimensions[axis]
	}
	return buildSlices(resultT, flatV, dimensions, strides).Interface()
}

// buildSlices recursively creates the slices of slices, the innermost ones pointing to the data.
func buildSlices(resultT reflect.Type, data reflect.Value, dimensions []int, strides []int) reflect.Value {
	if len(strides) == 1 {
		return data
	}
	numElements := dimensions[0]
	slice := reflect.MakeSlice(resultT, numElements, numElements)
	for ii := 0; ii < numElements; ii++ {
		subData := data.Slice(ii*strides[0], (ii+1)*strides[0])
		slice.Index(ii).Set(buildSlices(resultT.Elem(), subData, dimensions[1:], strides[1:]))
	}
	return slice
}

var typeFloat16 = reflect.TypeOf(float16.Float16(0))

// maxRowElements is the number of elements in a row above which the middle ones are elided.
const maxRowElements = 6

// Format returns a numpy inspired text rendering of the flat values laid out with the given dimensions.
// Floating point values are printed with the given precision.
func Format(flat any, dimensions []int, precision int) string {
	var buf bytes.Buffer
	w := func(format string, args ...any) { _, _ = fmt.Fprintf(&buf, format, args...) }
	wValue := func(v reflect.Value) {
		if v.Type() == typeFloat16 {
			w("%.*g", precision, v.Interface().(float16.Float16).Float32())
			return
		}
		switch v.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			w("%d", v.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			w("%d", v.Uint())
		case reflect.Float32, reflect.Float64:
			w("%.*g", precision, v.Float())
		case reflect.Complex64, reflect.Complex128:
			c := v.Complex()
			w("(%.*g%+.*gi)", precision, real(c), precision, imag(c))
		case reflect.String:
			w("%q", v.String())
		default:
			w("%v", v.Interface())
		}
	}

	values := reflect.ValueOf(flat)
	for _, dim := range dimensions {
		w("[%d]", dim)
	}
	w("%s", values.Type().Elem())
	if len(dimensions) == 0 {
		w("(")
		wValue(values.Index(0))
		w(")")
		return buf.String()
	}

	var printAxis func(offset, depth int)
	printAxis = func(offset, depth int) {
		dim := dimensions[depth]
		stride := 1
		for _, d := range dimensions[depth+1:] {
			stride *= d
		}
		w("{")
		for ii := 0; ii < dim; ii++ {
			if dim > maxRowElements && ii == 3 {
				if depth == len(dimensions)-1 {
					w(", ...")
				} else {
					w(",\n%s...", strings.Repeat(" ", depth+1))
				}
				ii = dim - 3
			}
			if ii > 0 {
				if depth == len(dimensions)-1 {
					w(", ")
				} else {
					w(",\n%s", strings.Repeat(" ", depth+1))
				}
			}
			if depth == len(dimensions)-1 {
				wValue(values.Index(offset + ii))
			} else {
				printAxis(offset+ii*stride, depth+1)
			}
		}
		w("}")
	}
	printAxis(0, 0)
	return buf.String()
}
