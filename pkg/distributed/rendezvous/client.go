// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package rendezvous implements a multi-process collective.Communicator over gRPC: one OS process per peer,
// all connected to a rendezvous server run by the process of rank 0.
//
// Each process is configured with its rank, the world size and the address of the server, usually from
// the environment (see LoadConfig). Typical use:
//
//	cfg, err := rendezvous.LoadConfig(".env")
//	if err != nil { ... }
//	client, err := rendezvous.Init(ctx, cfg)
//	if err != nil { ... }
//	defer func() { _ = client.Shutdown(ctx) }()
//	// From here on, ddpsync.Default() synchronizes across the world.
//
// The server only matches the calls and relays the tensors (gob encoded): every peer reduces the values
// itself, in rank order, so all of them compute the identical result.
package rendezvous

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/syncmetrics/pkg/core/tensors"
	"github.com/gomlx/syncmetrics/pkg/distributed/collective"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"k8s.io/klog/v2"
)

// Client is the connection of one peer to the rendezvous server. It implements collective.Communicator.
//
// Like a loopback.Communicator, calls are numbered per group: the n-th call of each member of a group is
// matched with the n-th call of the others.
type Client struct {
	cfg     Config
	conn    *grpc.ClientConn
	world   *collective.Group
	session string

	// server is set if this client owns the rendezvous server (rank 0, created by Init).
	server *Server

	mu       sync.Mutex
	sequence map[string]int
	closed   bool
}

// Assert Client implements collective.Communicator.
var _ collective.Communicator = (*Client)(nil)

// Dial connects to the rendezvous server at cfg.Address and joins the world. It blocks until every peer of
// the world joined, or ctx is done.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	conn, err := grpc.NewClient(cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)))
	if err != nil {
		return nil, errors.Wrapf(collective.ErrCommunicationFailure, "rendezvous: connecting to %q: %v", cfg.Address, err)
	}
	c := &Client{
		cfg:      cfg,
		conn:     conn,
		world:    collective.WorldGroupOf(cfg.WorldSize),
		sequence: make(map[string]int),
	}
	resp := new(JoinResponse)
	err = conn.Invoke(ctx, "/"+ServiceName+"/Join", &JoinRequest{Rank: cfg.Rank, WorldSize: cfg.WorldSize}, resp,
		grpc.WaitForReady(true))
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(collective.ErrCommunicationFailure, "rendezvous: rank %d joining %q: %v",
			cfg.Rank, cfg.Address, err)
	}
	c.session = resp.Session
	klog.V(1).Infof("rendezvous: rank %d of %d joined session %s at %s", cfg.Rank, cfg.WorldSize, c.session, cfg.Address)
	return c, nil
}

// Init joins the world described by cfg, and registers the client as the process-wide collective
// capability (collective.Register). The peer of rank 0 also starts the rendezvous server.
//
// It blocks until all peers joined. Call Shutdown at the end.
func Init(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var server *Server
	if cfg.Rank == 0 {
		server = NewServer(cfg.WorldSize)
		addr, err := server.Start(cfg.Address)
		if err != nil {
			return nil, err
		}
		cfg.Address = addr.String()
	}
	client, err := Dial(ctx, cfg)
	if err != nil {
		if server != nil {
			server.Stop()
		}
		return nil, err
	}
	client.server = server
	collective.Register(client)
	return client, nil
}

// Shutdown waits for all peers to reach it (a world Barrier), unregisters the client and closes the
// connection. The peer of rank 0 also stops the server.
func (c *Client) Shutdown(ctx context.Context) error {
	err := c.Barrier(ctx, nil)
	if collective.Registered() == collective.Communicator(c) {
		collective.Register(nil)
	}
	if closeErr := c.Close(); err == nil {
		err = closeErr
	}
	if c.server != nil {
		c.server.Stop()
	}
	return err
}

// Close the connection to the server, without synchronizing with the other peers.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// Session id joined.
func (c *Client) Session() string { return c.session }

// Address of the rendezvous server.
func (c *Client) Address() string { return c.cfg.Address }

// IsAvailable implements collective.Communicator.
func (c *Client) IsAvailable() bool { return true }

// IsInitialized implements collective.Communicator. It is false after Close.
func (c *Client) IsInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != "" && !c.closed
}

// Rank implements collective.Communicator.
func (c *Client) Rank() int { return c.cfg.Rank }

// WorldGroup implements collective.Communicator.
func (c *Client) WorldGroup() *collective.Group { return c.world }

// GroupSize implements collective.Communicator.
func (c *Client) GroupSize(group *collective.Group) (int, error) {
	group, err := collective.Validate(group, c.cfg.WorldSize)
	if err != nil {
		return 0, err
	}
	return group.Size(), nil
}

// exchange sends payload for the next call of the group, and returns the payloads of all members.
func (c *Client) exchange(ctx context.Context, op string, group *collective.Group, payload []byte) ([][]byte, error) {
	group, err := collective.Validate(group, c.cfg.WorldSize)
	if err != nil {
		return nil, err
	}
	index := group.IndexOf(c.cfg.Rank)
	if index < 0 {
		return nil, errors.Wrapf(collective.ErrCommunicationFailure, "rank %d is not a member of %s", c.cfg.Rank, group)
	}
	c.mu.Lock()
	seq := c.sequence[group.Name()]
	c.sequence[group.Name()] = seq + 1
	c.mu.Unlock()

	req := &ExchangeRequest{
		Session:   c.session,
		Key:       fmt.Sprintf("%s#%d", group.Name(), seq),
		Op:        op,
		GroupSize: group.Size(),
		Index:     index,
		Payload:   payload,
	}
	klog.V(2).Infof("rendezvous rank %d: %s %s, sending %s", c.cfg.Rank, op, req.Key, humanize.Bytes(uint64(len(payload))))
	resp := new(ExchangeResponse)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/Exchange", req, resp); err != nil {
		return nil, errors.Wrapf(collective.ErrCommunicationFailure, "rank %d %s on %s: %v", c.cfg.Rank, op, group, err)
	}
	if len(resp.Payloads) != group.Size() {
		return nil, errors.Wrapf(collective.ErrCommunicationFailure, "rank %d %s on %s: received %d payloads, wanted %d",
			c.cfg.Rank, op, group, len(resp.Payloads), group.Size())
	}
	return resp.Payloads, nil
}

func encodeTensor(t *tensors.Tensor) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.GobSerialize(gob.NewEncoder(&buf)); err != nil {
		return nil, errors.WithMessage(err, "encoding tensor")
	}
	return buf.Bytes(), nil
}

func decodeTensors(payloads [][]byte, device tensors.DeviceNum) ([]*tensors.Tensor, error) {
	values := make([]*tensors.Tensor, len(payloads))
	for ii, payload := range payloads {
		var err error
		values[ii], err = tensors.GobDeserializeToDevice(gob.NewDecoder(bytes.NewReader(payload)), device)
		if err != nil {
			return nil, errors.Wrapf(collective.ErrCommunicationFailure, "decoding tensor of member #%d: %v", ii, err)
		}
	}
	return values, nil
}

// Barrier implements collective.Communicator.
func (c *Client) Barrier(ctx context.Context, group *collective.Group) error {
	_, err := c.exchange(ctx, "barrier", group, nil)
	return err
}

// AllReduce implements collective.Communicator. The result is placed on the device of t.
func (c *Client) AllReduce(ctx context.Context, t *tensors.Tensor, op collective.ReduceOp,
	group *collective.Group) (*tensors.Tensor, error) {
	payload, err := encodeTensor(t)
	if err != nil {
		return nil, err
	}
	payloads, err := c.exchange(ctx, "all_reduce:"+op.String(), group, payload)
	if err != nil {
		return nil, err
	}
	values, err := decodeTensors(payloads, tensors.HostDevice)
	if err != nil {
		return nil, err
	}
	reduced, err := collective.ReduceTensors(values, op)
	if err != nil {
		return nil, errors.Wrapf(collective.ErrCommunicationFailure, "rank %d AllReduce: %v", c.cfg.Rank, err)
	}
	return reduced.To(reduced.DType(), t.Device())
}

// AllGather implements collective.Communicator. The gathered tensors are placed on the device of t.
func (c *Client) AllGather(ctx context.Context, t *tensors.Tensor, group *collective.Group) ([]*tensors.Tensor, error) {
	payload, err := encodeTensor(t)
	if err != nil {
		return nil, err
	}
	payloads, err := c.exchange(ctx, "all_gather", group, payload)
	if err != nil {
		return nil, err
	}
	return decodeTensors(payloads, t.Device())
}
