package chain

import (
	"context"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/mezonai/chainfork/block"
	"github.com/mezonai/chainfork/consensus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type treeOp struct {
	Parent  uint16
	Confirm bool
	Voters  uint8
}

func confirmationFor(b *block.Block, validator string) *consensus.Confirmation {
	return &consensus.Confirmation{BlockID: b.ID, BlockNumber: b.Number, Validator: validator}
}

// checkInvariants asserts what must hold after every step, whatever the
// insertion order.
func checkInvariants(t *testing.T, c *Controller, prevLIB uint64) {
	t.Helper()
	st := c.State()
	require.GreaterOrEqual(t, st.LastIrreversible, prevLIB, "lib went backwards")
	require.GreaterOrEqual(t, st.CanonicalHead.Number, st.LastIrreversible)
	require.True(t, st.hasHead(st.CanonicalHead.ID))

	libBlock, err := c.BlockByNumber(st.LastIrreversible)
	require.NoError(t, err)

	for i, a := range st.KnownHeads {
		for j, b := range st.KnownHeads {
			if i != j {
				require.False(t, c.store.IsAncestor(a.ID, b.ID), "head %s is an ancestor of head %s", a, b)
			}
		}
		anc, err := c.engine.CommonAncestor(a, st.CanonicalHead)
		require.NoError(t, err)
		require.GreaterOrEqual(t, anc.Number, st.LastIrreversible, "head %s forks below lib", a)
		if a.Number >= libBlock.Number {
			onBranch, err := c.store.GetByNumberOnBranch(libBlock.Number, a.ID)
			require.NoError(t, err)
			require.Equal(t, libBlock.ID, onBranch.ID, "head %s does not descend from lib", a)
		}
	}
}

func TestProperty_RandomTrees(t *testing.T) {
	for seed := int64(1); seed <= 25; seed++ {
		var ops []treeOp
		fuzz.NewWithSeed(seed).NilChance(0).NumElements(40, 120).Fuzz(&ops)

		h := newHarness(t, Options{})
		produced := []*block.Block{h.genesis}
		var lib uint64

		for _, op := range ops {
			if op.Confirm {
				head := h.c.Head()
				n := 1 + int(op.Voters)%len(validators)
				for _, v := range validators[:n] {
					_, _ = h.c.ProcessConfirmation(context.Background(), confirmationFor(head, v))
				}
			} else {
				parent := produced[int(op.Parent)%len(produced)]
				child := h.bld.Child(parent)
				produced = append(produced, child)
				_, err := h.c.ProcessBlock(context.Background(), "peer-1", child)
				require.NoError(t, err, "seed %d", seed)
			}
			checkInvariants(t, h.c, lib)
			lib = h.c.LastIrreversible()
		}

		assert.False(t, h.c.Halted(), "seed %d", seed)
	}
}

func TestProperty_ReappendLeavesStateUnchanged(t *testing.T) {
	var ops []uint8
	fuzz.NewWithSeed(7).NilChance(0).NumElements(20, 40).Fuzz(&ops)

	h := newHarness(t, Options{})
	produced := []*block.Block{h.genesis}
	for _, p := range ops {
		child := h.bld.Child(produced[int(p)%len(produced)])
		produced = append(produced, child)
		h.process(t, child)
	}

	before := h.c.State()
	for _, b := range produced {
		if !h.store.Contains(b.ID) {
			continue
		}
		res, err := h.c.ProcessBlock(context.Background(), "peer-1", b)
		require.NoError(t, err)
		assert.Equal(t, Duplicate, res.Outcome)
	}
	assert.Same(t, before, h.c.State())
}
