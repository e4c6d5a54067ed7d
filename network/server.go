package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/mezonai/chainfork/block"
	"github.com/mezonai/chainfork/blockstore"
	"github.com/mezonai/chainfork/exception"
	"github.com/mezonai/chainfork/jsonx"
	"github.com/mezonai/chainfork/logx"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// RepairService serves blocks to peers repairing a gap in their tree. The
// request carries the raw block id, the response the JSON encoded block.
type RepairService interface {
	GetBlock(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

type BlockGetter interface {
	BlockByID(id block.ID) (*block.Block, error)
}

var repairServiceDesc = grpc.ServiceDesc{
	ServiceName: RepairServiceName,
	HandlerType: (*RepairService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetBlock", Handler: getBlockHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "chainfork/repair",
}

func getBlockHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RepairService).GetBlock(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetBlockMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RepairService).GetBlock(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func RegisterRepairService(s grpc.ServiceRegistrar, srv RepairService) {
	s.RegisterService(&repairServiceDesc, srv)
}

type repairServer struct {
	blocks BlockGetter
}

func NewRepairServer(blocks BlockGetter) RepairService {
	return &repairServer{blocks: blocks}
}

func (s *repairServer) GetBlock(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	id, err := block.IDFromBytes(req.GetValue())
	if err != nil || id.IsZero() {
		return nil, status.Error(codes.InvalidArgument, "block id required")
	}
	b, err := s.blocks.BlockByID(id)
	if err != nil {
		if errors.Is(err, blockstore.ErrNotFound) {
			return nil, status.Errorf(codes.NotFound, "block %s not found", id.Short())
		}
		logx.Error("GRPC SERVER", fmt.Sprintf("GetBlock %s failed: %v", id.Short(), err))
		return nil, status.Error(codes.Internal, "failed to read block")
	}
	raw, err := jsonx.Marshal(b)
	if err != nil {
		logx.Error("GRPC SERVER", fmt.Sprintf("Encode block %s failed: %v", id.Short(), err))
		return nil, status.Error(codes.Internal, "failed to encode block")
	}
	return wrapperspb.Bytes(raw), nil
}

// ipLimiter hands out one token bucket per remote host.
type ipLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newIPLimiter(perSecond float64, burst int) *ipLimiter {
	return &ipLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *ipLimiter) allow(host string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[host]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[host] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

func rateLimitUnaryInterceptor(l *ipLimiter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		host := remoteHost(ctx)
		if !l.allow(host) {
			logx.Warn("SECURITY", "Repair requests throttled for ", host, " method: ", info.FullMethod)
			return nil, status.Errorf(codes.ResourceExhausted, "too many requests")
		}
		return handler(ctx, req)
	}
}

func defaultDeadlineUnaryInterceptor(defaultTimeout time.Duration) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
			defer cancel()
		}
		return handler(ctx, req)
	}
}

type ServerConfig struct {
	// RequestsPerSecond per remote host; zero disables throttling.
	RequestsPerSecond float64
	Burst             int
}

// NewServer builds a gRPC server exposing the repair service.
func NewServer(blocks BlockGetter, cfg ServerConfig) *grpc.Server {
	interceptors := []grpc.UnaryServerInterceptor{
		defaultDeadlineUnaryInterceptor(GRPCDefaultDeadline),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		interceptors = append([]grpc.UnaryServerInterceptor{
			rateLimitUnaryInterceptor(newIPLimiter(cfg.RequestsPerSecond, burst)),
		}, interceptors...)
	}

	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(interceptors...),
		grpc.MaxRecvMsgSize(GRPCMaxRecvMsgSize),
		grpc.MaxSendMsgSize(GRPCMaxSendMsgSize),
	)
	RegisterRepairService(srv, NewRepairServer(blocks))
	return srv
}

// Serve listens on addr and serves srv in the background until it is
// stopped.
func Serve(srv *grpc.Server, addr string) (net.Listener, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	exception.SafeGo("GrpcServer", func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logx.Error("GRPC SERVER", fmt.Sprintf("Failed to serve gRPC server: %v", err))
		}
	})
	logx.Info("GRPC SERVER", "gRPC repair server listening on ", lis.Addr().String())
	return lis, nil
}
