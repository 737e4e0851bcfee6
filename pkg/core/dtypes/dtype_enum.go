// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dtypes

import "strconv"

// DType is an enum that represents the data type of the elements of an array or tensor, or of a scalar.
//
// The numeric values follow the PJRT buffer types, so that values exchanged with XLA based backends keep their
// meaning. The opaque dtypes (String and Object) are appended after those and have no PJRT counterpart.
type DType int32

const (
	// InvalidDType is the zero value, used to represent an unset or unknown dtype.
	InvalidDType DType = 0

	// Bool are two-state booleans.
	Bool DType = 1

	// Int8 and the other IntX are signed integral values of fixed width.
	Int8  DType = 2
	Int16 DType = 3
	Int32 DType = 4
	Int64 DType = 5

	// Uint8 and the other UintX are unsigned integral values of fixed width.
	Uint8  DType = 6
	Uint16 DType = 7
	Uint32 DType = 8
	Uint64 DType = 9

	// Float16 is the IEEE 754 half-precision float, stored as github.com/x448/float16.Float16.
	Float16 DType = 10

	// Float32 and Float64 are Go's float32 and float64.
	Float32 DType = 11
	Float64 DType = 12

	// Complex64 are paired float32 (real, imag).
	Complex64 DType = 14

	// Complex128 are paired float64 (real, imag).
	Complex128 DType = 15

	// String holds Go strings. It is an opaque dtype: it can be stored in host arrays, but it has no
	// numeric meaning and can never be converted to a tensor.
	String DType = 100

	// Object holds arbitrary Go values (`any`). Like String, it is opaque.
	Object DType = 101
)

var dtypeNames = map[DType]string{
	InvalidDType: "InvalidDType",
	Bool:         "Bool",
	Int8:         "Int8",
	Int16:        "Int16",
	Int32:        "Int32",
	Int64:        "Int64",
	Uint8:        "Uint8",
	Uint16:       "Uint16",
	Uint32:       "Uint32",
	Uint64:       "Uint64",
	Float16:      "Float16",
	Float32:      "Float32",
	Float64:      "Float64",
	Complex64:    "Complex64",
	Complex128:   "Complex128",
	String:       "String",
	Object:       "Object",
}

// String implements fmt.Stringer.
func (dtype DType) String() string {
	if name, found := dtypeNames[dtype]; found {
		return name
	}
	return "DType(" + strconv.Itoa(int(dtype)) + ")"
}

// MapOfNames to their dtypes. It includes also aliases to the various dtypes.
// It is later initialized to include the lower-case version of the names.
var MapOfNames = map[string]DType{
	"InvalidDType": InvalidDType,
	"Bool":         Bool,
	"PRED":         Bool,
	"Int8":         Int8,
	"S8":           Int8,
	"Int16":        Int16,
	"S16":          Int16,
	"Int32":        Int32,
	"S32":          Int32,
	"Int64":        Int64,
	"S64":          Int64,
	"Uint8":        Uint8,
	"U8":           Uint8,
	"Uint16":       Uint16,
	"U16":          Uint16,
	"Uint32":       Uint32,
	"U32":          Uint32,
	"Uint64":       Uint64,
	"U64":          Uint64,
	"Float16":      Float16,
	"F16":          Float16,
	"Float32":      Float32,
	"F32":          Float32,
	"Float64":      Float64,
	"F64":          Float64,
	"Complex64":    Complex64,
	"C64":          Complex64,
	"Complex128":   Complex128,
	"C128":         Complex128,
	"String":       String,
	"Object":       Object,
}
