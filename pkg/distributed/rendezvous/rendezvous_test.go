// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package rendezvous

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gomlx/syncmetrics/pkg/core/tensors"
	"github.com/gomlx/syncmetrics/pkg/distributed/collective"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// spawn starts a server for a world of the given size, and runs fn for each peer in its own goroutine,
// each with its own connection.
func spawn(t *testing.T, size int, fn func(c *Client) error) error {
	server := NewServer(size)
	addr, err := server.Start("127.0.0.1:0")
	require.NoError(t, err)
	defer server.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	var g errgroup.Group
	for rank := range size {
		g.Go(func() error {
			client, err := Dial(ctx, Config{Rank: rank, WorldSize: size, Address: addr.String()})
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()
			if client.Session() != server.Session() {
				return errors.Errorf("rank %d joined session %q, wanted %q", rank, client.Session(), server.Session())
			}
			if err := fn(client); err != nil {
				return errors.WithMessagef(err, "rank %d", rank)
			}
			return nil
		})
	}
	return g.Wait()
}

func TestCollectives(t *testing.T) {
	const size = 3
	sums := make([]*tensors.Tensor, size)
	averages := make([]*tensors.Tensor, size)
	gathered := make([][]*tensors.Tensor, size)
	err := spawn(t, size, func(c *Client) error {
		ctx := context.Background()
		if !c.IsInitialized() {
			return errors.New("client not initialized after Dial")
		}
		if err := c.Barrier(ctx, nil); err != nil {
			return err
		}
		rank := c.Rank()
		x := tensors.FromFlatDataAndDimensions([]float64{float64(2 * (rank + 1)), 1}, 2)
		var err error
		if sums[rank], err = c.AllReduce(ctx, x, collective.Sum, nil); err != nil {
			return err
		}
		if averages[rank], err = c.AllReduce(ctx, x, collective.Average, c.WorldGroup()); err != nil {
			return err
		}
		device := tensors.DeviceNum(rank)
		x, err = tensors.FromScalar(int32(rank)).To(x.DType(), device)
		if err != nil {
			return err
		}
		gathered[rank], err = c.AllGather(ctx, x, nil)
		return err
	})
	require.NoError(t, err)
	for rank := range size {
		assert.Equal(t, []float64{12, 3}, sums[rank].Value())
		assert.Equal(t, []float64{4, 1}, averages[rank].Value())
		require.Len(t, gathered[rank], size)
		for ii, value := range gathered[rank] {
			assert.Equal(t, float64(ii), value.Value())
			assert.Equal(t, tensors.DeviceNum(rank), value.Device())
		}
	}
}

func TestSubGroups(t *testing.T) {
	first, err := collective.NewGroup(0, 1)
	require.NoError(t, err)
	err = spawn(t, 3, func(c *Client) error {
		if c.Rank() == 2 {
			return nil
		}
		size, err := c.GroupSize(first)
		if err != nil {
			return err
		}
		sum, err := c.AllReduce(context.Background(), tensors.FromScalar(int64(c.Rank()+1)), collective.Sum, first)
		if err != nil {
			return err
		}
		if got := tensors.ToScalar[int64](sum); got != 3 || size != 2 {
			return errors.Errorf("got sum=%d and group size=%d", got, size)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestMismatch(t *testing.T) {
	err := spawn(t, 2, func(c *Client) error {
		if c.Rank() == 0 {
			return c.Barrier(context.Background(), nil)
		}
		_, err := c.AllGather(context.Background(), tensors.FromScalar(1.0), nil)
		return err
	})
	require.ErrorIs(t, err, collective.ErrCommunicationFailure)
}

func TestInitAndShutdown(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	client, err := Init(ctx, Config{Rank: 0, WorldSize: 1, Address: "127.0.0.1:0"})
	require.NoError(t, err)
	assert.Same(t, client, collective.Registered())
	assert.NotEqual(t, "127.0.0.1:0", client.Address(), "rank 0 connects to the address the server listens on")

	sum, err := client.AllReduce(ctx, tensors.FromScalar(float32(2)), collective.Sum, nil)
	require.NoError(t, err)
	assert.Equal(t, float32(2), sum.Value())

	require.NoError(t, client.Shutdown(ctx))
	assert.Nil(t, collective.Registered())
	assert.False(t, client.IsInitialized())
	require.NoError(t, client.Close(), "closing twice is a no-op")
}

func TestConfig(t *testing.T) {
	_, err := Init(context.Background(), Config{Rank: 1, WorldSize: 1, Address: "localhost:0"})
	require.Error(t, err)
	require.Error(t, Config{Rank: 0, WorldSize: 0, Address: "x"}.Validate())
	require.Error(t, Config{Rank: 0, WorldSize: 1}.Validate())

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, Config{Rank: 0, WorldSize: 1, Address: DefaultAddress}, cfg)

	t.Setenv("SYNCMETRICS_RANK", "2")
	t.Setenv("SYNCMETRICS_WORLD_SIZE", "4")

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("SYNCMETRICS_ADDRESS=trainer-0:1234\nSYNCMETRICS_RANK=3\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("SYNCMETRICS_ADDRESS") })
	cfg, err = LoadConfig(envFile)
	require.NoError(t, err)
	// Variables already in the environment take precedence over the file.
	assert.Equal(t, Config{Rank: 2, WorldSize: 4, Address: "trainer-0:1234"}, cfg)

	t.Setenv("SYNCMETRICS_RANK", "4")
	_, err = LoadConfig("")
	require.Error(t, err)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
}
