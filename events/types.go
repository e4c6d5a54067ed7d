package events

import (
	"time"

	"github.com/mezonai/chainfork/block"
)

type EventType string

const (
	EventNewBlock            EventType = "NEW_BLOCK"
	EventBackFromFork        EventType = "BACK_FROM_FORK"
	EventNewIrreversible     EventType = "NEW_IRREVERSIBLE"
	EventMassiveSync         EventType = "MASSIVE_SYNC"
	EventTransactionRequeued EventType = "TX_REQUEUED"
)

// ChainEvent is anything the controller announces after a step.
type ChainEvent interface {
	Type() EventType
	Timestamp() time.Time
	BlockNumber() uint64
}

type base struct {
	number    uint64
	timestamp time.Time
}

func newBase(number uint64) base {
	return base{number: number, timestamp: time.Now()}
}

func (b base) Timestamp() time.Time {
	return b.timestamp
}

func (b base) BlockNumber() uint64 {
	return b.number
}

// NewBlock is emitted when a block joins the canonical chain, including
// every block adopted by a switch.
type NewBlock struct {
	base
	Block *block.Block
}

func NewNewBlock(b *block.Block) *NewBlock {
	return &NewBlock{base: newBase(b.Number), Block: b}
}

func (e *NewBlock) Type() EventType {
	return EventNewBlock
}

// BackFromFork describes one canonical branch switch. BlockNumber is the
// common ancestor: everything above it was replaced.
type BackFromFork struct {
	base
	OldHead        *block.Block
	NewHead        *block.Block
	CommonAncestor *block.Block
	Abandoned      []block.ID
	Adopted        []block.ID
}

func NewBackFromFork(oldHead, newHead, ancestor *block.Block, abandoned, adopted []*block.Block) *BackFromFork {
	return &BackFromFork{
		base:           newBase(ancestor.Number),
		OldHead:        oldHead,
		NewHead:        newHead,
		CommonAncestor: ancestor,
		Abandoned:      ids(abandoned),
		Adopted:        ids(adopted),
	}
}

func (e *BackFromFork) Type() EventType {
	return EventBackFromFork
}

func ids(blocks []*block.Block) []block.ID {
	out := make([]block.ID, len(blocks))
	for i, b := range blocks {
		out[i] = b.ID
	}
	return out
}

type NewIrreversible struct {
	base
	BlockID block.ID
}

func NewNewIrreversible(number uint64, id block.ID) *NewIrreversible {
	return &NewIrreversible{base: newBase(number), BlockID: id}
}

func (e *NewIrreversible) Type() EventType {
	return EventNewIrreversible
}

// TransactionRequeued is emitted for each abandoned transaction returned to
// the mempool. BlockNumber is the abandoned block it came from.
type TransactionRequeued struct {
	base
	TxID block.ID
}

func NewTransactionRequeued(txID block.ID, number uint64) *TransactionRequeued {
	return &TransactionRequeued{base: newBase(number), TxID: txID}
}

func (e *TransactionRequeued) Type() EventType {
	return EventTransactionRequeued
}

// MassiveSync marks the end of a bulk replay up to BlockNumber.
type MassiveSync struct {
	base
}

func NewMassiveSync(number uint64) *MassiveSync {
	return &MassiveSync{base: newBase(number)}
}

func (e *MassiveSync) Type() EventType {
	return EventMassiveSync
}
