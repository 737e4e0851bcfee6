// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package collective

import (
	"strings"

	"github.com/gomlx/syncmetrics/pkg/core/dtypes"
	"github.com/gomlx/syncmetrics/pkg/core/tensors"
	"github.com/pkg/errors"
)

// ReduceOp is the elementwise operation used to combine the values of the peers.
type ReduceOp int

const (
	// Sum of the values of all peers.
	Sum ReduceOp = iota

	// Average of the values of all peers: their Sum divided by the number of peers.
	Average
)

// String implements fmt.Stringer.
func (op ReduceOp) String() string {
	switch op {
	case Sum:
		return "Sum"
	case Average:
		return "Average"
	}
	return "ReduceOp(invalid)"
}

// ParseReduceOp converts a name (case-insensitive) to a ReduceOp: "sum", or one of "average", "avg", "mean".
func ParseReduceOp(name string) (ReduceOp, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sum":
		return Sum, nil
	case "average", "avg", "mean":
		return Average, nil
	}
	return Sum, errors.Errorf("unknown reduce operation %q, valid values are sum, average, avg or mean", name)
}

// ReduceTensors combines the tensors with op, as a left fold in the order given. Every peer that reduces the
// same values in the same order gets a bit-identical result.
//
// Averaging integer tensors produces a Float32 tensor. The result is placed on the device of values[0].
func ReduceTensors(values []*tensors.Tensor, op ReduceOp) (*tensors.Tensor, error) {
	if len(values) == 0 {
		return nil, errors.New("ReduceTensors: no values to reduce")
	}
	if op != Sum && op != Average {
		return nil, errors.Errorf("ReduceTensors: invalid %s", op)
	}
	result, err := values[0].Clone()
	if err != nil {
		return nil, err
	}
	for ii, value := range values[1:] {
		result, err = result.Add(value)
		if err != nil {
			return nil, errors.WithMessagef(err, "ReduceTensors: reducing value #%d", ii+1)
		}
	}
	if op == Average {
		return AverageOf(result, len(values))
	}
	return result, nil
}

// AverageOf divides the sum of count values by count. Integer sums are converted to Float32 first.
func AverageOf(sum *tensors.Tensor, count int) (*tensors.Tensor, error) {
	if sum.DType().IsInt() {
		var err error
		sum, err = sum.To(dtypes.Float32, sum.Device())
		if err != nil {
			return nil, err
		}
	}
	return sum.DivScalar(float64(count))
}
