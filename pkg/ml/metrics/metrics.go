// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package metrics adapts metric functions so that they can be written once against one value space, and
// evaluated on any mix of scalars, arrays and tensors, with their results synchronized across a group of
// processes.
//
// A metric function is a pipeline.Func. The adapters are builders that capture the configuration (group,
// reduction operation, syncer) and return a wrapper:
//
//	meanAbsError := metrics.ArraySpaceMetric(metrics.WithReduceOp(collective.Average))(
//		func(args []any, _ map[string]any) (any, error) {
//			labels, predictions := args[0].(*arrays.Array), args[1].(*arrays.Array)
//			...
//		})
//	value, err := meanAbsError([]any{labels, predictions}, nil)  // value is a *tensors.Tensor.
//
// Inputs are converted before the function is called, and outputs are converted to tensors before they are
// synchronized: synchronization always sees tensors.
package metrics

import (
	"context"

	"github.com/gomlx/syncmetrics/pkg/core/convert"
	"github.com/gomlx/syncmetrics/pkg/core/pipeline"
	"github.com/gomlx/syncmetrics/pkg/distributed/collective"
	"github.com/gomlx/syncmetrics/pkg/distributed/ddpsync"
)

// Option configures a metric adapter.
type Option func(c *config)

type config struct {
	ctx         context.Context
	group       *collective.Group
	op          collective.ReduceOp
	syncer      *ddpsync.Syncer
	convertOpts []convert.Option
}

func newConfig(opts []Option) *config {
	c := &config{ctx: context.Background(), op: collective.Sum}
	for _, opt := range opts {
		opt(c)
	}
	if c.syncer == nil {
		c.syncer = ddpsync.Default()
	}
	return c
}

// WithGroup sets the group across which results are synchronized. The default (nil) is the world group.
func WithGroup(group *collective.Group) Option {
	return func(c *config) { c.group = group }
}

// WithReduceOp sets how the results of the peers are combined. The default is collective.Sum.
func WithReduceOp(op collective.ReduceOp) Option {
	return func(c *config) { c.op = op }
}

// WithSyncer sets the Syncer used. The default is ddpsync.Default(), resolved when the adapter is built.
func WithSyncer(syncer *ddpsync.Syncer) Option {
	return func(c *config) { c.syncer = syncer }
}

// WithContext sets the context of the blocking synchronization calls. The default is context.Background().
func WithContext(ctx context.Context) Option {
	return func(c *config) { c.ctx = ctx }
}

// WithConversion sets the options (dtype, device) of the conversions to tensors.
func WithConversion(opts ...convert.Option) Option {
	return func(c *config) { c.convertOpts = append(c.convertOpts, opts...) }
}

// adapter builds the decorator that applies space to the metric function, and then synchronizes its result.
func adapter(space func(pipeline.Func, ...convert.Option) pipeline.Func, opts []Option) func(pipeline.Func) pipeline.Func {
	c := newConfig(opts)
	return func(fn pipeline.Func) pipeline.Func {
		return c.syncer.SyncOutputs(c.ctx, space(fn, c.convertOpts...), c.group, c.op)
	}
}

// ArraySpaceMetric returns a decorator for metric functions written against arrays: every scalar, array or
// tensor in the arguments is given to the function as an *arrays.Array, and every leaf of the result is
// returned as a *tensors.Tensor, synchronized across the group.
func ArraySpaceMetric(opts ...Option) func(pipeline.Func) pipeline.Func {
	return adapter(pipeline.ArraySpace, opts)
}

// TensorSpaceMetric returns a decorator for metric functions written against tensors: arguments and results
// are tensors, and results are synchronized across the group.
func TensorSpaceMetric(opts ...Option) func(pipeline.Func) pipeline.Func {
	return adapter(pipeline.TensorSpace, opts)
}

// TensorCollectionMetric is like TensorSpaceMetric, for functions returning a collection of metrics
// (e.g. a map of named values): each leaf is converted and synchronized, and the collection is preserved.
func TensorCollectionMetric(opts ...Option) func(pipeline.Func) pipeline.Func {
	return adapter(pipeline.TensorCollection, opts)
}
