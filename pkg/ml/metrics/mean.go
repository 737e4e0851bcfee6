// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"context"
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/syncmetrics/pkg/core/dtypes"
	"github.com/gomlx/syncmetrics/pkg/core/tensors"
	"github.com/gomlx/syncmetrics/pkg/distributed/collective"
	"github.com/gomlx/syncmetrics/pkg/distributed/ddpsync"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
)

// StreamingMean keeps the running mean of the values of a metric, one value (e.g. one batch result) at a
// time. Values are accumulated as Float64.
//
// It is not safe for concurrent use.
type StreamingMean struct {
	name, shortName string
	sum             *tensors.Tensor
	count           int64
}

// NewStreamingMean creates an empty StreamingMean. shortName is used in progress bars and tables.
func NewStreamingMean(name, shortName string) *StreamingMean {
	return &StreamingMean{name: name, shortName: shortName}
}

// Name of the metric.
func (m *StreamingMean) Name() string { return m.name }

// ShortName of the metric.
func (m *StreamingMean) ShortName() string { return m.shortName }

// Count of values seen since the last Reset.
func (m *StreamingMean) Count() int64 { return m.count }

// Update accumulates value. All values must have the same shape.
func (m *StreamingMean) Update(value *tensors.Tensor) error {
	asFloat, err := value.To(dtypes.Float64, tensors.HostDevice)
	if err != nil {
		return errors.WithMessagef(err, "streaming mean %q", m.name)
	}
	if m.sum == nil {
		m.sum, err = asFloat.Clone()
	} else {
		m.sum, err = m.sum.Add(asFloat)
	}
	if err != nil {
		return errors.WithMessagef(err, "streaming mean %q", m.name)
	}
	m.count++
	return nil
}

// Read returns the local mean. It panics if no value has been seen.
func (m *StreamingMean) Read() *tensors.Tensor {
	if m.count == 0 {
		exceptions.Panicf("streaming mean metric %q has seen no values to read", m.name)
	}
	return must.M1(m.sum.DivScalar(float64(m.count)))
}

// ReadSynced returns the mean of the values seen by all members of group: the sums and the counts are
// reduced across peers before dividing.
//
// It is a collective call: every member of the group must call it, and every member must have seen at
// least one value, of the same shape.
func (m *StreamingMean) ReadSynced(ctx context.Context, syncer *ddpsync.Syncer, group *collective.Group) (
	*tensors.Tensor, error) {
	if m.count == 0 {
		return nil, errors.Errorf("streaming mean metric %q has seen no values to read", m.name)
	}
	sum, err := syncer.Reduce(ctx, m.sum, group, collective.Sum)
	if err != nil {
		return nil, err
	}
	count, err := syncer.Reduce(ctx, tensors.FromScalar(m.count), group, collective.Sum)
	if err != nil {
		return nil, err
	}
	return sum.DivScalar(float64(tensors.ToScalar[int64](count)))
}

// Reset forgets all values seen.
func (m *StreamingMean) Reset() {
	m.sum = nil
	m.count = 0
}

// PrettyPrint returns a short representation of a value of the metric.
func (m *StreamingMean) PrettyPrint(value *tensors.Tensor) string {
	if value.Size() == 1 {
		return fmt.Sprintf("%.3f", tensors.CopyFlatData[float64](must.M1(value.To(dtypes.Float64, value.Device())))[0])
	}
	return value.Summary(3)
}
