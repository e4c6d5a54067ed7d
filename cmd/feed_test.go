package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mezonai/chainfork/block"
	"github.com/mezonai/chainfork/block/blocktest"
	"github.com/mezonai/chainfork/blockstore"
	"github.com/mezonai/chainfork/chain"
	"github.com/mezonai/chainfork/consensus"
	"github.com/mezonai/chainfork/db"
	"github.com/mezonai/chainfork/jsonx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeFeed(t *testing.T, records ...feedRecord) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	enc := jsonx.NewEncoder(&buf)
	for _, rec := range records {
		require.NoError(t, enc.Encode(rec))
	}
	return &buf
}

func newReplayController(t *testing.T, genesis *block.Block) *chain.Controller {
	t.Helper()
	provider, err := db.NewMemLevelDBProvider()
	require.NoError(t, err)
	store, err := blockstore.NewStore(provider)
	require.NoError(t, err)
	vs, err := consensus.NewEqualValidatorSet("v1", "v2", "v3")
	require.NoError(t, err)
	c, err := chain.NewController(store, consensus.NewTracker(vs), chain.Options{})
	require.NoError(t, err)
	require.NoError(t, c.Init(genesis))
	return c
}

func TestReadFeed_RejectsAmbiguousLines(t *testing.T) {
	err := readFeed(strings.NewReader("{}\n"), func(feedRecord) error { return nil })
	assert.Error(t, err)

	err = readFeed(strings.NewReader("not json\n"), func(feedRecord) error { return nil })
	assert.Error(t, err)

	count := 0
	err = readFeed(strings.NewReader("\n\n"), func(feedRecord) error { count++; return nil })
	assert.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestReplayFeed_AdvancesHeadAndLIB(t *testing.T) {
	bld := blocktest.NewBuilder()
	genesis := bld.Genesis()
	blocks := bld.Chain(genesis, 5)

	var records []feedRecord
	for _, b := range blocks {
		records = append(records, feedRecord{Block: b})
	}
	for _, v := range []string{"v1", "v2", "v3"} {
		records = append(records, feedRecord{Confirmation: &consensus.Confirmation{
			BlockID: blocks[3].ID, BlockNumber: blocks[3].Number, Validator: v,
		}})
	}

	c := newReplayController(t, genesis)
	stats, err := replayFeed(context.Background(), c, encodeFeed(t, records...), 2)
	require.NoError(t, err)

	assert.Equal(t, 5, stats.Blocks)
	assert.Equal(t, 3, stats.Confirmations)
	assert.Equal(t, 0, stats.Rejected)
	assert.Equal(t, uint64(5), stats.Head)
	assert.Equal(t, uint64(4), stats.LIB)
	assert.Equal(t, blocks[4].ID, c.Head().ID)
}

func TestReplayFeed_DuplicateIsNotRejected(t *testing.T) {
	bld := blocktest.NewBuilder()
	genesis := bld.Genesis()
	b1 := bld.Child(genesis)

	c := newReplayController(t, genesis)
	stats, err := replayFeed(context.Background(), c, encodeFeed(t, feedRecord{Block: b1}, feedRecord{Block: b1}), 8)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Blocks)
	assert.Equal(t, 0, stats.Rejected)
	assert.Equal(t, uint64(1), stats.Head)
}

func TestPumpFeed_ClosesChannels(t *testing.T) {
	bld := blocktest.NewBuilder()
	genesis := bld.Genesis()
	b1 := bld.Child(genesis)
	feed := encodeFeed(t,
		feedRecord{Block: b1},
		feedRecord{Confirmation: &consensus.Confirmation{BlockID: b1.ID, BlockNumber: 1, Validator: "v1"}},
	)

	blocks := make(chan chain.InboundBlock, 1)
	confs := make(chan *consensus.Confirmation, 1)
	require.NoError(t, pumpFeed(context.Background(), feed, "feed", blocks, confs))

	in, ok := <-blocks
	require.True(t, ok)
	assert.Equal(t, "feed", in.Peer)
	assert.Equal(t, b1.ID, in.Block.ID)
	_, ok = <-blocks
	assert.False(t, ok)

	conf, ok := <-confs
	require.True(t, ok)
	assert.Equal(t, "v1", conf.Validator)
}

func TestBuildComponents_MemoryStore(t *testing.T) {
	dir := t.TempDir()
	genesisFile := filepath.Join(dir, "genesis.yml")
	require.NoError(t, os.WriteFile(genesisFile, []byte(`config:
  validators:
    - pubkey: v1
    - pubkey: v2
  genesis:
    producer: founder
    timestamp: 2024-01-01T00:00:00Z
`), 0o600))
	iniFile := filepath.Join(dir, "config.ini")
	require.NoError(t, os.WriteFile(iniFile, []byte("[store]\ntype = memory\n"), 0o600))

	comps, err := buildComponents(genesisFile, iniFile, nil, nil)
	require.NoError(t, err)
	defer comps.close()

	assert.Nil(t, comps.sink)
	summary := describeState(comps)
	assert.Equal(t, uint64(0), summary.Head.Number)
	assert.Equal(t, summary.Head.ID, summary.LIBID)
	assert.Len(t, summary.KnownHeads, 1)
}
