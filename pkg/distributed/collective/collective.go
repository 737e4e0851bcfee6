// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package collective defines the collective communication capability used to synchronize values across a
// group of cooperating peers (processes, or goroutines for in-process worlds).
//
// The capability is the Communicator interface. Implementations are in the packages loopback (in-process)
// and rendezvous (multi-process over gRPC). A process registers its Communicator with Register, and
// the synchronization layer (package ddpsync) resolves it once with Registered.
package collective

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/gomlx/syncmetrics/pkg/core/tensors"
	"github.com/pkg/errors"
)

// ErrCommunicationFailure is returned (wrapped) when a collective operation can not complete: a peer is
// unreachable, the group is malformed or the call was cancelled. Test for it with errors.Is.
var ErrCommunicationFailure = errors.New("collective communication failure")

// Communicator is a peer's handle on a collective communication runtime.
//
// All blocking operations block until every member of the group reaches the matching call. There is no
// timeout: a peer that never arrives stalls the group, unless the context is cancelled.
// A nil group means the world group.
type Communicator interface {
	// IsAvailable returns whether the communication runtime is present.
	IsAvailable() bool

	// IsInitialized returns whether the runtime has been initialized and can be used.
	IsInitialized() bool

	// Rank of this peer in the world group.
	Rank() int

	// WorldGroup returns the group of all peers.
	WorldGroup() *Group

	// GroupSize returns the number of members of the group.
	GroupSize(group *Group) (int, error)

	// Barrier blocks until every member of group calls Barrier.
	Barrier(ctx context.Context, group *Group) error

	// AllReduce combines the tensors of every member of group with op, and returns the identical result to all.
	AllReduce(ctx context.Context, t *tensors.Tensor, op ReduceOp, group *Group) (*tensors.Tensor, error)

	// AllGather returns to every member the tensors contributed by all members, in group order.
	AllGather(ctx context.Context, t *tensors.Tensor, group *Group) ([]*tensors.Tensor, error)
}

// Group is a set of peers addressed as a unit, identified by a name and the ordered world ranks of its members.
// Groups are immutable.
type Group struct {
	name  string
	ranks []int
}

// NewGroup creates a group with the given world ranks, in the given order. The name is derived from the ranks.
//
// It returns an error for an empty list of ranks, negative or repeated ranks.
func NewGroup(ranks ...int) (*Group, error) {
	if len(ranks) == 0 {
		return nil, errors.Wrap(ErrCommunicationFailure, "a group must have at least one member")
	}
	parts := make([]string, len(ranks))
	for ii, rank := range ranks {
		if rank < 0 {
			return nil, errors.Wrapf(ErrCommunicationFailure, "invalid negative rank %d in group", rank)
		}
		if slices.Contains(ranks[:ii], rank) {
			return nil, errors.Wrapf(ErrCommunicationFailure, "rank %d repeated in group %v", rank, ranks)
		}
		parts[ii] = fmt.Sprint(rank)
	}
	return &Group{name: "ranks:" + strings.Join(parts, ","), ranks: slices.Clone(ranks)}, nil
}

// WorldGroupOf returns the group with all ranks from 0 to worldSize-1, named "world".
func WorldGroupOf(worldSize int) *Group {
	ranks := make([]int, worldSize)
	for ii := range ranks {
		ranks[ii] = ii
	}
	return &Group{name: "world", ranks: ranks}
}

// Name of the group, used to match collective calls among its members.
func (g *Group) Name() string { return g.name }

// Size returns the number of members.
func (g *Group) Size() int { return len(g.ranks) }

// Ranks returns a copy of the world ranks of the members, in group order.
func (g *Group) Ranks() []int { return slices.Clone(g.ranks) }

// IndexOf returns the position of the world rank in the group, or -1 if it is not a member.
func (g *Group) IndexOf(rank int) int { return slices.Index(g.ranks, rank) }

// String implements fmt.Stringer.
func (g *Group) String() string {
	if g == nil {
		return "Group(world)"
	}
	return fmt.Sprintf("Group(%s)", g.name)
}

// Validate checks that the group fits in a world of the given size. It returns the group, or the world group
// if group is nil.
func Validate(group *Group, worldSize int) (*Group, error) {
	if group == nil {
		return WorldGroupOf(worldSize), nil
	}
	for _, rank := range group.ranks {
		if rank >= worldSize {
			return nil, errors.Wrapf(ErrCommunicationFailure, "%s has rank %d, but world size is %d",
				group, rank, worldSize)
		}
	}
	return group, nil
}

var (
	registryMu sync.Mutex
	registered Communicator
)

// Register comm as the process-wide communication capability. Registering nil removes it.
//
// It is consulted by Registered, which ddpsync.Default calls only once: register before the first use.
func Register(comm Communicator) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registered = comm
}

// Registered returns the process-wide communication capability, or nil if none was registered.
func Registered() Communicator {
	registryMu.Lock()
	defer registryMu.Unlock()
	return registered
}
