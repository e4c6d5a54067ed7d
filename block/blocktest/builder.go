// Package blocktest builds deterministic block trees for tests.
package blocktest

import (
	"time"

	"github.com/mezonai/chainfork/block"
)

var baseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Builder gives every block a distinct timestamp, so siblings built from the
// same parent never collide.
type Builder struct {
	Producer string
	seq      int64
}

func NewBuilder() *Builder {
	return &Builder{Producer: "producer"}
}

func (b *Builder) next() time.Time {
	b.seq++
	return baseTime.Add(time.Duration(b.seq) * time.Millisecond)
}

func (b *Builder) Genesis() *block.Block {
	return block.NewGenesis(b.Producer, baseTime)
}

func (b *Builder) Child(parent *block.Block, txs ...*block.Transaction) *block.Block {
	return block.AssembleBlock(parent.Number+1, parent.ID, b.Producer, b.next(), txs)
}

// Chain returns n blocks extending parent, lowest first.
func (b *Builder) Chain(parent *block.Block, n int) []*block.Block {
	out := make([]*block.Block, 0, n)
	for i := 0; i < n; i++ {
		parent = b.Child(parent)
		out = append(out, parent)
	}
	return out
}

// Tx returns a transaction whose payload is the given label.
func Tx(label string) *block.Transaction {
	return block.NewTransaction([]byte(label))
}
