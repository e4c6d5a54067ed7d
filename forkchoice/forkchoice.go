package forkchoice

import (
	"errors"
	"fmt"

	"github.com/mezonai/chainfork/block"
	"github.com/mezonai/chainfork/blockstore"
)

var ErrIrreversibleConflict = errors.New("branch forks at or below last irreversible block")

type Kind int

const (
	Extend Kind = iota
	NewCompetingHead
	SwitchHead
)

func (k Kind) String() string {
	switch k {
	case Extend:
		return "extend"
	case NewCompetingHead:
		return "new_competing_head"
	case SwitchHead:
		return "switch_head"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Decision is the outcome of evaluating one appended block. CommonAncestor
// is the fork point with the canonical chain; for Extend it is the old head.
type Decision struct {
	Kind           Kind
	NewHead        *block.Block
	OldHead        *block.Block
	CommonAncestor *block.Block
}

func (d Decision) String() string {
	switch d.Kind {
	case SwitchHead:
		return fmt.Sprintf("%s(old=%s new=%s ancestor=%s)", d.Kind, d.OldHead, d.NewHead, d.CommonAncestor)
	default:
		return fmt.Sprintf("%s(%s)", d.Kind, d.NewHead)
	}
}

// State is the slice of chain state the engine reads.
type State struct {
	Head             *block.Block
	LastIrreversible uint64
}

type BlockReader interface {
	Get(id block.ID) (*block.Block, error)
}

const maxMemoEntries = 4096

// Engine decides where an already appended block leaves the canonical chain.
// Fork points are memoised per branch tip; they stay valid while the
// canonical chain only grows at its head, so ResetMemo must run after every
// switch and after pruning.
type Engine struct {
	store BlockReader
	memo  map[block.ID]*block.Block
}

func NewEngine(store BlockReader) *Engine {
	return &Engine{
		store: store,
		memo:  make(map[block.ID]*block.Block),
	}
}

func (e *Engine) ResetMemo() {
	e.memo = make(map[block.ID]*block.Block)
}

// Evaluate classifies nb against the canonical head in state. nb must
// already be in the store.
func (e *Engine) Evaluate(state State, nb *block.Block) (Decision, error) {
	head := state.Head
	if head == nil {
		return Decision{}, fmt.Errorf("no canonical head")
	}

	if nb.PreviousID == head.ID {
		return Decision{Kind: Extend, NewHead: nb, OldHead: head, CommonAncestor: head}, nil
	}

	ancestor, err := e.forkPoint(nb, head)
	if err != nil {
		return Decision{}, err
	}
	if ancestor.Number < state.LastIrreversible {
		return Decision{}, fmt.Errorf("%w: %s forks after %s, lib=%d",
			ErrIrreversibleConflict, nb, ancestor, state.LastIrreversible)
	}

	if Outweighs(nb, head, state.LastIrreversible) {
		return Decision{Kind: SwitchHead, NewHead: nb, OldHead: head, CommonAncestor: ancestor}, nil
	}
	return Decision{Kind: NewCompetingHead, NewHead: nb, OldHead: head, CommonAncestor: ancestor}, nil
}

func (e *Engine) forkPoint(nb, head *block.Block) (*block.Block, error) {
	if anc, ok := e.memo[nb.PreviousID]; ok {
		e.remember(nb.ID, anc)
		return anc, nil
	}
	parent, err := e.store.Get(nb.PreviousID)
	if err != nil {
		return nil, fmt.Errorf("parent of %s: %w", nb, err)
	}
	anc, err := e.CommonAncestor(parent, head)
	if err != nil {
		if errors.Is(err, blockstore.ErrNotFound) {
			// the walk left the in-memory window, which only happens below LIB
			return nil, fmt.Errorf("%w: %s: %v", ErrIrreversibleConflict, nb, err)
		}
		return nil, err
	}
	e.remember(nb.ID, anc)
	return anc, nil
}

func (e *Engine) remember(tip block.ID, ancestor *block.Block) {
	if len(e.memo) >= maxMemoEntries {
		e.ResetMemo()
	}
	e.memo[tip] = ancestor
}

// CommonAncestor walks both branches down until they meet.
func (e *Engine) CommonAncestor(a, b *block.Block) (*block.Block, error) {
	var err error
	for a.ID != b.ID {
		switch {
		case a.Number > b.Number:
			a, err = e.store.Get(a.PreviousID)
		case b.Number > a.Number:
			b, err = e.store.Get(b.PreviousID)
		default:
			if a.IsGenesis() || b.IsGenesis() {
				return nil, fmt.Errorf("%s and %s share no ancestor", a, b)
			}
			a, err = e.store.Get(a.PreviousID)
			if err == nil {
				b, err = e.store.Get(b.PreviousID)
			}
		}
		if err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Diff lists the blocks leaving and joining the canonical chain, each in
// ascending number order, with ancestor excluded from both.
func (e *Engine) Diff(oldHead, newHead, ancestor *block.Block) (abandoned, adopted []*block.Block, err error) {
	abandoned, err = e.rangeTo(oldHead, ancestor)
	if err != nil {
		return nil, nil, err
	}
	adopted, err = e.rangeTo(newHead, ancestor)
	if err != nil {
		return nil, nil, err
	}
	return abandoned, adopted, nil
}

func (e *Engine) rangeTo(tip, ancestor *block.Block) ([]*block.Block, error) {
	if tip.Number < ancestor.Number {
		return nil, fmt.Errorf("%s is below ancestor %s", tip, ancestor)
	}
	out := make([]*block.Block, tip.Number-ancestor.Number)
	cur := tip
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = cur
		parent, err := e.store.Get(cur.PreviousID)
		if err != nil {
			return nil, err
		}
		cur = parent
	}
	if cur.ID != ancestor.ID {
		return nil, fmt.Errorf("%s does not descend from %s", tip, ancestor)
	}
	return out, nil
}

// Outweighs applies the selection rule: longer since LIB wins, and on equal
// weight the lexicographically smaller id wins.
func Outweighs(candidate, current *block.Block, lib uint64) bool {
	cw, hw := Weight(candidate, lib), Weight(current, lib)
	if cw != hw {
		return cw > hw
	}
	return candidate.ID.Less(current.ID)
}

// Weight is the number of blocks a head carries above lib.
func Weight(b *block.Block, lib uint64) uint64 {
	if b.Number <= lib {
		return 0
	}
	return b.Number - lib
}
