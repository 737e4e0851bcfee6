// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package loopback implements an in-process collective.Communicator: a world of N peers running as goroutines
// of the same process.
//
// It is used in tests and to run several workers on a single host. Example:
//
//	err := loopback.Spawn(3, func(comm *loopback.Communicator) error {
//		syncer := ddpsync.New(comm)
//		...
//	})
package loopback

import (
	"context"
	"fmt"
	"sync"

	"github.com/gomlx/syncmetrics/internal/exchange"
	"github.com/gomlx/syncmetrics/pkg/core/tensors"
	"github.com/gomlx/syncmetrics/pkg/distributed/collective"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// Communicator is one peer's view of a loopback world. It implements collective.Communicator.
//
// Each peer must be used by only one goroutine at a time, like a process would: calls are numbered per
// group, and the n-th call of every member of a group is matched with the n-th call of the others.
type Communicator struct {
	rank  int
	world *collective.Group
	hub   *exchange.Hub[*tensors.Tensor]

	mu       sync.Mutex
	sequence map[string]int
}

// Assert Communicator implements collective.Communicator.
var _ collective.Communicator = (*Communicator)(nil)

// NewWorld creates the Communicators of a world with size peers, indexed by rank.
func NewWorld(size int) []*Communicator {
	if size <= 0 {
		panic(errors.Errorf("loopback.NewWorld(%d): world size must be > 0", size))
	}
	world := collective.WorldGroupOf(size)
	hub := exchange.NewHub[*tensors.Tensor]()
	comms := make([]*Communicator, size)
	for rank := range comms {
		comms[rank] = &Communicator{
			rank:     rank,
			world:    world,
			hub:      hub,
			sequence: make(map[string]int),
		}
	}
	return comms
}

// Spawn creates a world with size peers, and calls fn for each peer in its own goroutine.
// It waits for all of them, and returns the first error.
func Spawn(size int, fn func(comm *Communicator) error) error {
	var g errgroup.Group
	for _, comm := range NewWorld(size) {
		g.Go(func() error {
			if err := fn(comm); err != nil {
				return errors.WithMessagef(err, "rank %d", comm.rank)
			}
			return nil
		})
	}
	return g.Wait()
}

// IsAvailable implements collective.Communicator. Always true.
func (c *Communicator) IsAvailable() bool { return true }

// IsInitialized implements collective.Communicator. Always true.
func (c *Communicator) IsInitialized() bool { return true }

// Rank implements collective.Communicator.
func (c *Communicator) Rank() int { return c.rank }

// WorldGroup implements collective.Communicator.
func (c *Communicator) WorldGroup() *collective.Group { return c.world }

// GroupSize implements collective.Communicator.
func (c *Communicator) GroupSize(group *collective.Group) (int, error) {
	group, err := collective.Validate(group, c.world.Size())
	if err != nil {
		return 0, err
	}
	return group.Size(), nil
}

// exchange contributes a snapshot of value to the next call of the group, and returns the values of all
// members. The caller may modify value as soon as exchange returns, while other members still read it.
func (c *Communicator) exchange(ctx context.Context, op string, group *collective.Group, value *tensors.Tensor) (
	[]*tensors.Tensor, error) {
	group, err := collective.Validate(group, c.world.Size())
	if err != nil {
		return nil, err
	}
	index := group.IndexOf(c.rank)
	if index < 0 {
		return nil, errors.Wrapf(collective.ErrCommunicationFailure, "rank %d is not a member of %s", c.rank, group)
	}
	c.mu.Lock()
	seq := c.sequence[group.Name()]
	c.sequence[group.Name()] = seq + 1
	c.mu.Unlock()

	if value != nil {
		value, err = value.Clone()
		if err != nil {
			return nil, errors.WithMessagef(err, "rank %d %s on %s", c.rank, op, group)
		}
	}
	key := fmt.Sprintf("%s#%d", group.Name(), seq)
	klog.V(2).Infof("loopback rank %d: %s %s", c.rank, op, key)
	values, err := c.hub.Exchange(ctx, key, op, group.Size(), index, value)
	if err != nil {
		return nil, errors.Wrapf(collective.ErrCommunicationFailure, "rank %d %s on %s: %v", c.rank, op, group, err)
	}
	return values, nil
}

// Barrier implements collective.Communicator.
func (c *Communicator) Barrier(ctx context.Context, group *collective.Group) error {
	_, err := c.exchange(ctx, "barrier", group, nil)
	return err
}

// AllReduce implements collective.Communicator. The result is placed on the device of t.
func (c *Communicator) AllReduce(ctx context.Context, t *tensors.Tensor, op collective.ReduceOp,
	group *collective.Group) (*tensors.Tensor, error) {
	values, err := c.exchange(ctx, "all_reduce:"+op.String(), group, t)
	if err != nil {
		return nil, err
	}
	reduced, err := collective.ReduceTensors(values, op)
	if err != nil {
		return nil, errors.Wrapf(collective.ErrCommunicationFailure, "rank %d AllReduce: %v", c.rank, err)
	}
	return reduced.To(reduced.DType(), t.Device())
}

// AllGather implements collective.Communicator. The gathered tensors are copies placed on the device of t.
func (c *Communicator) AllGather(ctx context.Context, t *tensors.Tensor, group *collective.Group) (
	[]*tensors.Tensor, error) {
	values, err := c.exchange(ctx, "all_gather", group, t)
	if err != nil {
		return nil, err
	}
	// The snapshots are shared by all members, so each one gets its own copies.
	gathered := make([]*tensors.Tensor, len(values))
	for ii, value := range values {
		clone, err := value.Clone()
		if err != nil {
			return nil, errors.Wrapf(collective.ErrCommunicationFailure, "rank %d AllGather: %v", c.rank, err)
		}
		gathered[ii], err = clone.To(clone.DType(), t.Device())
		if err != nil {
			return nil, err
		}
	}
	return gathered, nil
}
