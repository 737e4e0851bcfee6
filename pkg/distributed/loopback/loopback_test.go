// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package loopback

import (
	"context"
	"testing"
	"time"

	"github.com/gomlx/syncmetrics/pkg/core/dtypes"
	"github.com/gomlx/syncmetrics/pkg/core/tensors"
	"github.com/gomlx/syncmetrics/pkg/distributed/collective"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllReduce(t *testing.T) {
	for _, size := range []int{1, 2, 3, 5} {
		for _, op := range []collective.ReduceOp{collective.Sum, collective.Average} {
			results := make([]*tensors.Tensor, size)
			err := Spawn(size, func(comm *Communicator) error {
				rank := comm.Rank()
				x := tensors.FromFlatDataAndDimensions([]float64{float64(2 * (rank + 1)), 1}, 2)
				reduced, err := comm.AllReduce(context.Background(), x, op, nil)
				results[rank] = reduced
				return err
			})
			require.NoError(t, err, "size=%d, op=%s", size, op)

			var want []float64
			sum := float64(size * (size + 1))
			if op == collective.Sum {
				want = []float64{sum, float64(size)}
			} else {
				want = []float64{sum / float64(size), 1}
			}
			for rank, result := range results {
				assert.Equal(t, want, result.Value(), "size=%d, op=%s, rank=%d", size, op, rank)
				assert.True(t, results[0].Equal(result), "all peers must have identical results")
			}
		}
	}
}

func TestAllGather(t *testing.T) {
	const size = 4
	results := make([][]*tensors.Tensor, size)
	err := Spawn(size, func(comm *Communicator) error {
		x, err := tensors.FromScalar(int32(10 * comm.Rank())).To(dtypes.Int32, tensors.DeviceNum(comm.Rank()))
		if err != nil {
			return err
		}
		results[comm.Rank()], err = comm.AllGather(context.Background(), x, nil)
		return err
	})
	require.NoError(t, err)
	for rank, gathered := range results {
		require.Len(t, gathered, size)
		for ii, value := range gathered {
			assert.Equal(t, int32(10*ii), value.Value())
			assert.Equal(t, tensors.DeviceNum(rank), value.Device(), "gathered values are placed on the caller's device")
		}
	}
}

func TestSubGroups(t *testing.T) {
	even, err := collective.NewGroup(2, 0)
	require.NoError(t, err)
	odd, err := collective.NewGroup(1, 3)
	require.NoError(t, err)
	results := make([][]*tensors.Tensor, 4)
	err = Spawn(4, func(comm *Communicator) error {
		group := even
		if comm.Rank()%2 == 1 {
			group = odd
		}
		size, err := comm.GroupSize(group)
		if err != nil {
			return err
		}
		if size != 2 {
			return errors.Errorf("GroupSize=%d, wanted 2", size)
		}
		if err := comm.Barrier(context.Background(), group); err != nil {
			return err
		}
		results[comm.Rank()], err = comm.AllGather(context.Background(), tensors.FromScalar(int64(comm.Rank())), group)
		return err
	})
	require.NoError(t, err)
	for rank, gathered := range results {
		require.Len(t, gathered, 2)
		if rank%2 == 0 {
			// Group order: rank 2 first.
			assert.Equal(t, int64(2), gathered[0].Value())
			assert.Equal(t, int64(0), gathered[1].Value())
		} else {
			assert.Equal(t, int64(1), gathered[0].Value())
			assert.Equal(t, int64(3), gathered[1].Value())
		}
	}
}

func TestBufferReuse(t *testing.T) {
	const size = 2
	for trial := range 50 {
		sums := make([]*tensors.Tensor, size)
		gathered := make([][]*tensors.Tensor, size)
		err := Spawn(size, func(comm *Communicator) error {
			ctx := context.Background()
			rank := comm.Rank()
			x := tensors.FromFlatDataAndDimensions([]float64{float64(rank + 1)}, 1)
			var err error
			if sums[rank], err = comm.AllReduce(ctx, x, collective.Sum, nil); err != nil {
				return err
			}
			// The buffer is reused right away, while the other peer may still be reducing.
			if err := tensors.MutableFlatData(x, func(flat []float64) { flat[0] = 100 }); err != nil {
				return err
			}
			if err := tensors.MutableFlatData(x, func(flat []float64) { flat[0] = float64(10 * rank) }); err != nil {
				return err
			}
			if gathered[rank], err = comm.AllGather(ctx, x, nil); err != nil {
				return err
			}
			return tensors.MutableFlatData(x, func(flat []float64) { flat[0] = 999 })
		})
		require.NoError(t, err)
		for rank := range size {
			assert.Equal(t, []float64{3}, sums[rank].Value(), "trial %d, rank %d", trial, rank)
			require.Len(t, gathered[rank], size)
			for ii, value := range gathered[rank] {
				assert.Equal(t, []float64{float64(10 * ii)}, value.Value(), "trial %d, rank %d", trial, rank)
			}
		}
	}
}

func TestSequentialCalls(t *testing.T) {
	err := Spawn(3, func(comm *Communicator) error {
		for round := range 10 {
			x := tensors.FromScalar(float32(round))
			sum, err := comm.AllReduce(context.Background(), x, collective.Sum, comm.WorldGroup())
			if err != nil {
				return err
			}
			if got := tensors.ToScalar[float32](sum); got != float32(3*round) {
				return errors.Errorf("round %d: got %g", round, got)
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestFailures(t *testing.T) {
	comms := NewWorld(2)

	// Rank not in the group.
	group, err := collective.NewGroup(1)
	require.NoError(t, err)
	err = comms[0].Barrier(context.Background(), group)
	require.ErrorIs(t, err, collective.ErrCommunicationFailure)

	// Group larger than the world.
	group, err = collective.NewGroup(0, 5)
	require.NoError(t, err)
	_, err = comms[0].GroupSize(group)
	require.ErrorIs(t, err, collective.ErrCommunicationFailure)

	// Cancelled call: the peer never arrives.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = comms[0].Barrier(ctx, nil)
	require.ErrorIs(t, err, collective.ErrCommunicationFailure)

	// Mismatched operations on the same call.
	err = Spawn(2, func(comm *Communicator) error {
		if comm.Rank() == 0 {
			return comm.Barrier(context.Background(), nil)
		}
		_, err := comm.AllGather(context.Background(), tensors.FromScalar(1.0), nil)
		return err
	})
	require.ErrorIs(t, err, collective.ErrCommunicationFailure)

	require.Panics(t, func() { NewWorld(0) })
}

func TestRegistered(t *testing.T) {
	comms := NewWorld(1)
	collective.Register(comms[0])
	defer collective.Register(nil)
	assert.Same(t, comms[0], collective.Registered())
}
