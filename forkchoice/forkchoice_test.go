package forkchoice

import (
	"testing"

	"github.com/mezonai/chainfork/block"
	"github.com/mezonai/chainfork/block/blocktest"
	"github.com/mezonai/chainfork/blockstore"
	"github.com/mezonai/chainfork/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store   *blockstore.Store
	engine  *Engine
	builder *blocktest.Builder
	genesis *block.Block
	trunk   []*block.Block // trunk[i] has number i
}

func newFixture(t *testing.T, trunkLen int) *fixture {
	t.Helper()
	provider, err := db.NewMemLevelDBProvider()
	require.NoError(t, err)
	store, err := blockstore.NewStore(provider)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bld := blocktest.NewBuilder()
	genesis := bld.Genesis()
	require.NoError(t, store.Append(genesis))
	trunk := append([]*block.Block{genesis}, bld.Chain(genesis, trunkLen)...)
	for _, b := range trunk[1:] {
		require.NoError(t, store.Append(b))
	}
	return &fixture{
		store:   store,
		engine:  NewEngine(store),
		builder: bld,
		genesis: genesis,
		trunk:   trunk,
	}
}

func (f *fixture) branch(t *testing.T, from *block.Block, n int) []*block.Block {
	t.Helper()
	blocks := f.builder.Chain(from, n)
	for _, b := range blocks {
		require.NoError(t, f.store.Append(b))
	}
	return blocks
}

func TestEvaluate_Extend(t *testing.T) {
	f := newFixture(t, 3)
	head := f.trunk[3]
	next := f.branch(t, head, 1)[0]

	d, err := f.engine.Evaluate(State{Head: head}, next)
	require.NoError(t, err)
	assert.Equal(t, Extend, d.Kind)
	assert.Equal(t, next, d.NewHead)
}

func TestEvaluate_SwitchScenario(t *testing.T) {
	f := newFixture(t, 100)
	fork := f.trunk[100]
	a := f.branch(t, fork, 5) // A101..A105
	b := f.branch(t, fork, 7) // B101..B107

	state := State{Head: a[4], LastIrreversible: 90}

	d, err := f.engine.Evaluate(state, b[2])
	require.NoError(t, err)
	assert.Equal(t, NewCompetingHead, d.Kind)
	assert.Equal(t, fork.ID, d.CommonAncestor.ID)

	d, err = f.engine.Evaluate(state, b[6])
	require.NoError(t, err)
	require.Equal(t, SwitchHead, d.Kind)
	assert.Equal(t, a[4].ID, d.OldHead.ID)
	assert.Equal(t, b[6].ID, d.NewHead.ID)
	assert.Equal(t, uint64(100), d.CommonAncestor.Number)
	assert.Equal(t, fork.ID, d.CommonAncestor.ID)

	abandoned, adopted, err := f.engine.Diff(d.OldHead, d.NewHead, d.CommonAncestor)
	require.NoError(t, err)
	assert.Equal(t, a, abandoned)
	assert.Equal(t, b, adopted)
}

func TestEvaluate_TieBreakBySmallerID(t *testing.T) {
	f := newFixture(t, 2)
	x := f.branch(t, f.trunk[2], 1)[0]
	y := f.branch(t, f.trunk[2], 1)[0]

	smaller, larger := x, y
	if y.ID.Less(x.ID) {
		smaller, larger = y, x
	}

	d, err := f.engine.Evaluate(State{Head: larger}, smaller)
	require.NoError(t, err)
	assert.Equal(t, SwitchHead, d.Kind)

	f.engine.ResetMemo()
	d, err = f.engine.Evaluate(State{Head: smaller}, larger)
	require.NoError(t, err)
	assert.Equal(t, NewCompetingHead, d.Kind)
}

func TestEvaluate_IrreversibleConflict(t *testing.T) {
	f := newFixture(t, 105)
	below := f.branch(t, f.trunk[100], 8) // forks after 100, longer than trunk
	atLIB := f.branch(t, f.trunk[102], 6)

	state := State{Head: f.trunk[105], LastIrreversible: 102}

	_, err := f.engine.Evaluate(state, below[7])
	assert.ErrorIs(t, err, ErrIrreversibleConflict)

	// fork point 103 sits above LIB: the LIB block is a shared ancestor
	d, err := f.engine.Evaluate(state, atLIB[5])
	require.NoError(t, err)
	assert.Equal(t, SwitchHead, d.Kind)
	assert.Equal(t, uint64(102), d.CommonAncestor.Number)
}

func TestEvaluate_MemoisedForkPoint(t *testing.T) {
	f := newFixture(t, 10)
	side := f.branch(t, f.trunk[5], 2)
	state := State{Head: f.trunk[10]}

	d, err := f.engine.Evaluate(state, side[0])
	require.NoError(t, err)
	assert.Equal(t, f.trunk[5].ID, d.CommonAncestor.ID)

	d, err = f.engine.Evaluate(state, side[1])
	require.NoError(t, err)
	assert.Equal(t, f.trunk[5].ID, d.CommonAncestor.ID)
	assert.Contains(t, f.engine.memo, side[1].ID)
}

func TestOutweighs(t *testing.T) {
	bld := blocktest.NewBuilder()
	g := bld.Genesis()
	chain := bld.Chain(g, 3)

	assert.True(t, Outweighs(chain[2], chain[1], 0))
	assert.False(t, Outweighs(chain[1], chain[2], 0))
	assert.Equal(t, uint64(0), Weight(chain[0], 5))
	assert.Equal(t, uint64(2), Weight(chain[2], 1))
}
