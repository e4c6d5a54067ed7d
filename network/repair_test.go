package network

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/mezonai/chainfork/block"
	"github.com/mezonai/chainfork/block/blocktest"
	"github.com/mezonai/chainfork/blockstore"
	"github.com/mezonai/chainfork/peerscore"
	"github.com/mezonai/chainfork/repair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const bufTarget = "passthrough:///bufnet"

type mapBlocks map[block.ID]*block.Block

func (m mapBlocks) BlockByID(id block.ID) (*block.Block, error) {
	if b, ok := m[id]; ok {
		return b, nil
	}
	return nil, blockstore.ErrNotFound
}

func startBufServer(t *testing.T, blocks BlockGetter, cfg ServerConfig) *bufconn.Listener {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServer(blocks, cfg)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis
}

func bufClient(t *testing.T, lis *bufconn.Listener, scores *peerscore.PeerScoringManager) *RepairClient {
	t.Helper()
	c := NewRepairClient(scores, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRepairClient_FetchBlock(t *testing.T) {
	bld := blocktest.NewBuilder()
	genesis := bld.Genesis()
	b1 := bld.Child(genesis, blocktest.Tx("hello"))

	lis := startBufServer(t, mapBlocks{b1.ID: b1}, ServerConfig{})
	scores := peerscore.NewPeerScoringManager(nil)
	client := bufClient(t, lis, scores)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := client.FetchBlock(ctx, bufTarget, b1.ID)
	require.NoError(t, err)
	assert.Equal(t, b1.ID, got.ID)
	assert.Equal(t, b1.PreviousID, got.PreviousID)
	require.Len(t, got.Transactions, 1)
	assert.Equal(t, []byte("hello"), got.Transactions[0].Payload)
	assert.NoError(t, got.Validate())

	stats := scores.GetPeerStats(bufTarget)
	require.NotNil(t, stats)
	assert.Equal(t, 1, stats.RepairsServed)

	_, err = client.FetchBlock(ctx, bufTarget, genesis.ID)
	assert.ErrorIs(t, err, repair.ErrBlockMissing)
	assert.Equal(t, 1, scores.GetPeerStats(bufTarget).RepairFailures)
}

func TestRepairClient_WithFetcher(t *testing.T) {
	bld := blocktest.NewBuilder()
	b1 := bld.Child(bld.Genesis())

	lis := startBufServer(t, mapBlocks{b1.ID: b1}, ServerConfig{})
	fetcher := repair.NewFetcher(bufClient(t, lis, nil), repair.Config{
		MaxAttempts:    2,
		BaseDelay:      time.Millisecond,
		MaxDelay:       time.Millisecond,
		RequestTimeout: 2 * time.Second,
	})

	got, err := fetcher.Fetch(context.Background(), []string{bufTarget}, b1.ID)
	require.NoError(t, err)
	assert.Equal(t, b1.ID, got.ID)
}

func TestRepairServer_RejectsZeroID(t *testing.T) {
	lis := startBufServer(t, mapBlocks{}, ServerConfig{})
	client := bufClient(t, lis, nil)

	_, err := client.FetchBlock(context.Background(), bufTarget, block.ZeroID)
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestRepairServer_WireMessages(t *testing.T) {
	bld := blocktest.NewBuilder()
	b1 := bld.Child(bld.Genesis(), blocktest.Tx("wire"))
	lis := startBufServer(t, mapBlocks{b1.ID: b1}, ServerConfig{})
	client := bufClient(t, lis, nil)
	cc, err := client.conn(bufTarget)
	require.NoError(t, err)

	resp := new(wrapperspb.BytesValue)
	require.NoError(t, cc.Invoke(context.Background(), GetBlockMethod, wrapperspb.Bytes(b1.ID.Bytes()), resp))
	assert.NotEmpty(t, resp.GetValue())

	err = cc.Invoke(context.Background(), GetBlockMethod, wrapperspb.Bytes([]byte{1, 2, 3}), resp)
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestRepairServer_Throttles(t *testing.T) {
	bld := blocktest.NewBuilder()
	b1 := bld.Child(bld.Genesis())
	lis := startBufServer(t, mapBlocks{b1.ID: b1}, ServerConfig{RequestsPerSecond: 0.001, Burst: 1})
	client := bufClient(t, lis, nil)

	_, err := client.FetchBlock(context.Background(), bufTarget, b1.ID)
	require.NoError(t, err)
	_, err = client.FetchBlock(context.Background(), bufTarget, b1.ID)
	require.Error(t, err)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}
