package network

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mezonai/chainfork/block"
	"github.com/mezonai/chainfork/jsonx"
	"github.com/mezonai/chainfork/logx"
	"github.com/mezonai/chainfork/peerscore"
	"github.com/mezonai/chainfork/repair"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// RepairClient fetches blocks from peers over gRPC. Peers are addressed by
// their dial target; connections are opened lazily and reused.
type RepairClient struct {
	opts   []grpc.DialOption
	scores *peerscore.PeerScoringManager

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

var _ repair.Source = (*RepairClient)(nil)

// NewRepairClient reports each outcome to scores when it is non-nil.
func NewRepairClient(scores *peerscore.PeerScoringManager, extra ...grpc.DialOption) *RepairClient {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(GRPCMaxSendMsgSize)),
	}
	return &RepairClient{
		opts:   append(opts, extra...),
		scores: scores,
		conns:  make(map[string]*grpc.ClientConn),
	}
}

func (c *RepairClient) conn(peer string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cc, ok := c.conns[peer]; ok {
		return cc, nil
	}
	cc, err := grpc.NewClient(peer, c.opts...)
	if err != nil {
		return nil, err
	}
	c.conns[peer] = cc
	return cc, nil
}

// FetchBlock asks peer for id. A peer without the block yields
// repair.ErrBlockMissing.
func (c *RepairClient) FetchBlock(ctx context.Context, peer string, id block.ID) (*block.Block, error) {
	cc, err := c.conn(peer)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", peer, err)
	}

	start := time.Now()
	resp := new(wrapperspb.BytesValue)
	err = cc.Invoke(ctx, GetBlockMethod, wrapperspb.Bytes(id.Bytes()), resp)
	if err != nil {
		c.report(peer, peerscore.EventRepairFailed, nil)
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %s from %s", repair.ErrBlockMissing, id.Short(), peer)
		}
		return nil, fmt.Errorf("get block %s from %s: %w", id.Short(), peer, err)
	}
	if len(resp.GetValue()) == 0 {
		c.report(peer, peerscore.EventRepairFailed, nil)
		return nil, fmt.Errorf("%w: %s from %s", repair.ErrBlockMissing, id.Short(), peer)
	}
	b := new(block.Block)
	if err := jsonx.Unmarshal(resp.GetValue(), b); err != nil {
		c.report(peer, peerscore.EventRepairFailed, nil)
		return nil, fmt.Errorf("decode block %s from %s: %w", id.Short(), peer, err)
	}

	c.report(peer, peerscore.EventRepairServed, nil)
	c.report(peer, peerscore.EventResponseTime, time.Since(start))
	logx.Debug("GRPC CLIENT", "Fetched block ", b, " from ", peer)
	return b, nil
}

func (c *RepairClient) report(peer string, event peerscore.EventType, value interface{}) {
	if c.scores != nil {
		c.scores.UpdatePeerScore(peer, event, value)
	}
}

func (c *RepairClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for peer, cc := range c.conns {
		if err := cc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.conns, peer)
	}
	return firstErr
}
