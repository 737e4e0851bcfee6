// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ddpsync synchronizes values across the peers of a process group: barrier, reduce and gather-all
// over the collective communication capability (see package collective).
//
// A Syncer decides once, when it is built, whether the capability is usable. If it isn't, the Syncer is
// Inactive and every operation degrades to a non-blocking identity: a single process behaves as a group
// of one.
//
// Example:
//
//	syncer := ddpsync.Default()
//	mean, err := syncer.Reduce(ctx, localMean, nil, collective.Average)
package ddpsync

import (
	"context"
	"sync"
	"time"

	"github.com/gomlx/syncmetrics/pkg/core/leaves"
	"github.com/gomlx/syncmetrics/pkg/core/pipeline"
	"github.com/gomlx/syncmetrics/pkg/core/tensors"
	"github.com/gomlx/syncmetrics/pkg/distributed/collective"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// State of a Syncer.
type State int

const (
	// Inactive means no collective capability is available: operations are identity passthroughs.
	Inactive State = iota

	// Active means operations are carried out over the collective capability.
	Active
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Inactive:
		return "Inactive"
	case Active:
		return "Active"
	}
	return "State(invalid)"
}

// label used in metrics.
func (s State) label() string {
	if s == Active {
		return "active"
	}
	return "inactive"
}

// Syncer carries out the synchronization operations for one peer. It is safe for concurrent use to the
// extent its Communicator is: peers must issue the same sequence of operations on each group.
type Syncer struct {
	comm  collective.Communicator
	state State
}

var warnOnce sync.Once

// New creates a Syncer over comm. It is Active only if comm is not nil, and it is available and initialized.
// Otherwise, a warning is logged (once per process) and the Syncer is Inactive.
func New(comm collective.Communicator) *Syncer {
	if comm == nil || !comm.IsAvailable() || !comm.IsInitialized() {
		warnOnce.Do(func() {
			klog.Warningf("ddpsync: no initialized collective communication capability found, values won't be " +
				"synchronized across processes")
		})
		return &Syncer{state: Inactive}
	}
	klog.V(1).Infof("ddpsync: synchronizing as rank %d of %s", comm.Rank(), comm.WorldGroup())
	return &Syncer{comm: comm, state: Active}
}

var defaultSyncer = sync.OnceValue(func() *Syncer {
	return New(collective.Registered())
})

// Default returns the process-wide Syncer, built on the first call from the Communicator registered with
// collective.Register. Later registrations are not seen.
func Default() *Syncer {
	return defaultSyncer()
}

// State returns whether the Syncer is Active or Inactive. It never changes.
func (s *Syncer) State() State { return s.state }

// Communicator used by the Syncer, nil if Inactive.
func (s *Syncer) Communicator() collective.Communicator { return s.comm }

// GroupSize returns the number of members of group (nil for the world group). It is 1 if Inactive.
func (s *Syncer) GroupSize(group *collective.Group) (int, error) {
	if s.state == Inactive {
		return 1, nil
	}
	return s.comm.GroupSize(group)
}

// observe runs fn accounting for it in the metrics of op.
func (s *Syncer) observe(op string, fn func() error) error {
	collectiveCalls.WithLabelValues(op, s.state.label()).Inc()
	if s.state == Inactive {
		return fn()
	}
	start := time.Now()
	err := fn()
	collectiveSeconds.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		collectiveErrors.WithLabelValues(op).Inc()
	}
	return err
}

// Barrier blocks until every member of group reaches it. It returns immediately if Inactive.
func (s *Syncer) Barrier(ctx context.Context, group *collective.Group) error {
	return s.observe("barrier", func() error {
		if s.state == Inactive {
			return nil
		}
		return s.comm.Barrier(ctx, group)
	})
}

// Reduce combines t across the members of group: after a barrier, the values are summed, and for
// collective.Average divided by the size of the group. Every member receives the same result.
//
// Averaging integer tensors yields a Float32 tensor. If Inactive, t itself is returned.
func (s *Syncer) Reduce(ctx context.Context, t *tensors.Tensor, group *collective.Group, op collective.ReduceOp) (
	result *tensors.Tensor, err error) {
	if op != collective.Sum && op != collective.Average {
		return nil, errors.Errorf("ddpsync.Reduce: invalid %s", op)
	}
	err = s.observe("reduce", func() error {
		if s.state == Inactive {
			result = t
			return nil
		}
		if err := s.comm.Barrier(ctx, group); err != nil {
			return err
		}
		sum, err := s.comm.AllReduce(ctx, t, collective.Sum, group)
		if err != nil {
			return err
		}
		if op == collective.Sum {
			result = sum
			return nil
		}
		size, err := s.comm.GroupSize(group)
		if err != nil {
			return err
		}
		result, err = collective.AverageOf(sum, size)
		return err
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "ddpsync.Reduce(%s) of %s", op, t.Shape())
	}
	return result, nil
}

// GatherAll returns the values of t of every member of group, after a barrier. Element i is the value
// contributed by the i-th member of the group. If Inactive, it returns []*tensors.Tensor{t}.
func (s *Syncer) GatherAll(ctx context.Context, t *tensors.Tensor, group *collective.Group) (
	gathered []*tensors.Tensor, err error) {
	err = s.observe("gather_all", func() error {
		if s.state == Inactive {
			gathered = []*tensors.Tensor{t}
			return nil
		}
		if err := s.comm.Barrier(ctx, group); err != nil {
			return err
		}
		gathered, err = s.comm.AllGather(ctx, t, group)
		return err
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "ddpsync.GatherAll of %s", t.Shape())
	}
	return gathered, nil
}

// SyncOutputs returns a Func that reduces every tensor leaf of fn's result across group with op.
// Other leaves and the containers of the result are kept as is.
//
// Members visit the tensor leaves in the same order (see collections.Map): all of them must return
// results with the same structure.
func (s *Syncer) SyncOutputs(ctx context.Context, fn pipeline.Func, group *collective.Group,
	op collective.ReduceOp) pipeline.Func {
	return pipeline.ApplyToOutputs(fn, leaves.TensorsOnly(), func(leaf any) (any, error) {
		return s.Reduce(ctx, leaf.(*tensors.Tensor), group, op)
	})
}
