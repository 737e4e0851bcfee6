// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package rendezvous

import (
	"context"
	"net"

	"github.com/gomlx/syncmetrics/internal/exchange"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"
)

// ServiceName of the rendezvous gRPC service.
const ServiceName = "syncmetrics.rendezvous.Rendezvous"

// rendezvousServer is the interface of the service handlers.
type rendezvousServer interface {
	Join(ctx context.Context, req *JoinRequest) (*JoinResponse, error)
	Exchange(ctx context.Context, req *ExchangeRequest) (*ExchangeResponse, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*rendezvousServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Join", Handler: joinHandler},
		{MethodName: "Exchange", Handler: exchangeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rendezvous",
}

func joinHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(JoinRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(rendezvousServer).Join(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Join"}
	return interceptor(ctx, req, info, func(ctx context.Context, req any) (any, error) {
		return srv.(rendezvousServer).Join(ctx, req.(*JoinRequest))
	})
}

func exchangeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(ExchangeRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(rendezvousServer).Exchange(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Exchange"}
	return interceptor(ctx, req, info, func(ctx context.Context, req any) (any, error) {
		return srv.(rendezvousServer).Exchange(ctx, req.(*ExchangeRequest))
	})
}

// Server is the rendezvous point of a world: every collective call of the peers is matched here.
// It only relays payloads, the reductions are computed by the peers.
type Server struct {
	worldSize  int
	session    string
	hub        *exchange.Hub[[]byte]
	grpcServer *grpc.Server
	listener   net.Listener
}

// Assert Server implements rendezvousServer.
var _ rendezvousServer = (*Server)(nil)

// NewServer creates a server for a world of worldSize peers. Each server has a new session id.
func NewServer(worldSize int) *Server {
	s := &Server{
		worldSize:  worldSize,
		session:    uuid.NewString(),
		hub:        exchange.NewHub[[]byte](),
		grpcServer: grpc.NewServer(),
	}
	s.grpcServer.RegisterService(&serviceDesc, s)
	return s
}

// Session id of the server.
func (s *Server) Session() string { return s.session }

// Start listening on address, and serve in a separate goroutine. It returns the address actually used,
// which differs from address if it used port 0.
func (s *Server) Start(address string) (net.Addr, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "rendezvous server failed to listen on %q", address)
	}
	s.listener = listener
	klog.V(1).Infof("rendezvous: serving session %s for %d peers on %s", s.session, s.worldSize, listener.Addr())
	go func() {
		if err := s.grpcServer.Serve(listener); err != nil {
			klog.Errorf("rendezvous server on %s stopped: %+v", listener.Addr(), err)
		}
	}()
	return listener.Addr(), nil
}

// Stop the server, waiting for the pending calls to finish.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}

// Join implements the Join call: it blocks until every peer of the world joined.
func (s *Server) Join(ctx context.Context, req *JoinRequest) (*JoinResponse, error) {
	if req.WorldSize != s.worldSize {
		return nil, status.Errorf(codes.InvalidArgument, "peer with rank %d configured for a world of size %d, "+
			"but the server expects %d", req.Rank, req.WorldSize, s.worldSize)
	}
	if _, err := s.hub.Exchange(ctx, "join", "join", s.worldSize, req.Rank, nil); err != nil {
		return nil, statusFromError(err)
	}
	klog.V(2).Infof("rendezvous: rank %d joined session %s", req.Rank, s.session)
	return &JoinResponse{Session: s.session}, nil
}

// Exchange implements the Exchange call: it blocks until every member of the group contributed its payload.
func (s *Server) Exchange(ctx context.Context, req *ExchangeRequest) (*ExchangeResponse, error) {
	if req.Session != s.session {
		return nil, status.Errorf(codes.FailedPrecondition, "unknown session %q, peer must join session %q",
			req.Session, s.session)
	}
	if req.GroupSize > s.worldSize {
		return nil, status.Errorf(codes.InvalidArgument, "group of size %d larger than the world (%d)",
			req.GroupSize, s.worldSize)
	}
	payloads, err := s.hub.Exchange(ctx, req.Key, req.Op, req.GroupSize, req.Index, req.Payload)
	if err != nil {
		return nil, statusFromError(err)
	}
	return &ExchangeResponse{Payloads: payloads}, nil
}

// statusFromError converts a hub error to a gRPC status.
func statusFromError(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, exchange.ErrMismatch):
		return status.Error(codes.FailedPrecondition, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
