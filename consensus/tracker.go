package consensus

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/holiman/uint256"
	"github.com/mezonai/chainfork/block"
	"github.com/mezonai/chainfork/logx"
)

var (
	ErrDuplicateConfirmation = errors.New("duplicate confirmation")
	ErrUnknownValidator      = errors.New("confirmation from unknown validator")
	// ErrNonMonotonicLIB is an invariant violation: recomputation produced a
	// lower irreversible number than the one already committed.
	ErrNonMonotonicLIB = errors.New("last irreversible block would move backwards")
	ErrHalted          = errors.New("irreversibility tracking halted")
)

type Status int

const (
	Pending Status = iota
	Confirmed
	Irreversible
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case Irreversible:
		return "irreversible"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ChainView answers questions about the current canonical chain.
type ChainView interface {
	// CanonicalSupport returns the number of the highest canonical block that
	// is id itself or one of its ancestors. ok is false when id is unknown.
	CanonicalSupport(id block.ID) (number uint64, ok bool)
}

type vote struct {
	number  uint64
	support uint64 // as of the last Recompute that could resolve the block
}

// Tracker turns validator confirmations into a monotonic last irreversible
// block number. A confirmation of block X supports every canonical number up
// to the point where X's branch meets the canonical chain.
type Tracker struct {
	mu sync.Mutex

	validators *ValidatorSet
	votes      map[string]map[block.ID]*vote  // validator -> block
	byNumber   map[uint64]map[string]struct{} // number -> validators
	floor      map[string]uint64              // support retained from pruned votes
	support    map[string]uint64              // as of the last Recompute

	lib    uint64
	halted bool
}

func NewTracker(validators *ValidatorSet) *Tracker {
	return &Tracker{
		validators: validators,
		votes:      make(map[string]map[block.ID]*vote),
		byNumber:   make(map[uint64]map[string]struct{}),
		floor:      make(map[string]uint64),
		support:    make(map[string]uint64),
	}
}

func (t *Tracker) RecordConfirmation(c *Confirmation) error {
	if err := c.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.validators.Contains(c.Validator) {
		return fmt.Errorf("%w: %s", ErrUnknownValidator, c.Validator)
	}

	if c.BlockNumber <= t.lib {
		t.raiseFloor(c.Validator, c.BlockNumber)
		return nil
	}

	votes, ok := t.votes[c.Validator]
	if !ok {
		votes = make(map[block.ID]*vote)
		t.votes[c.Validator] = votes
	}
	if _, exists := votes[c.BlockID]; exists {
		return fmt.Errorf("%w: %s for block %d %s", ErrDuplicateConfirmation, c.Validator, c.BlockNumber, c.BlockID.Short())
	}
	votes[c.BlockID] = &vote{number: c.BlockNumber}

	set, ok := t.byNumber[c.BlockNumber]
	if !ok {
		set = make(map[string]struct{})
		t.byNumber[c.BlockNumber] = set
	}
	set[c.Validator] = struct{}{}

	logx.Debug("CONSENSUS", fmt.Sprintf("number=%d confirmations=%d/%d", c.BlockNumber, len(set), t.validators.Len()))
	return nil
}

func (t *Tracker) raiseFloor(validator string, number uint64) {
	if number > t.lib {
		number = t.lib
	}
	if number > t.floor[validator] {
		t.floor[validator] = number
	}
}

// Recompute derives the highest number a stake supermajority supports on the
// canonical chain described by view. advanced is true when that number is
// above the committed one, which it then replaces.
func (t *Tracker) Recompute(view ChainView) (lib uint64, advanced bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.halted {
		return t.lib, false, ErrHalted
	}

	type weighted struct {
		support uint64
		stake   *uint256.Int
	}
	ids := t.validators.IDs()
	ranked := make([]weighted, 0, len(ids))
	for _, id := range ids {
		s := t.floor[id]
		for blockID, v := range t.votes[id] {
			n, ok := view.CanonicalSupport(blockID)
			if ok {
				v.support = n
			} else {
				// the block left the view, e.g. its branch was discarded; what
				// it supported up to lib still holds
				n = min(v.support, t.lib)
			}
			if n > s {
				s = n
			}
		}
		t.support[id] = s
		ranked = append(ranked, weighted{support: s, stake: t.validators.Stake(id)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].support > ranked[j].support })

	var candidate uint64
	acc := new(uint256.Int)
	for _, w := range ranked {
		acc.Add(acc, w.stake)
		if t.validators.IsSupermajority(acc) {
			candidate = w.support
			break
		}
	}

	switch {
	case candidate < t.lib:
		t.halted = true
		return t.lib, false, fmt.Errorf("%w: candidate %d, committed %d", ErrNonMonotonicLIB, candidate, t.lib)
	case candidate == t.lib:
		return t.lib, false, nil
	}

	t.lib = candidate
	return t.lib, true, nil
}

// SetValidators swaps the active set. Incoming validators inherit the
// committed irreversible number as their floor, so the change cannot pull a
// recomputation below it.
func (t *Tracker) SetValidators(validators *ValidatorSet) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id := range t.votes {
		if !validators.Contains(id) {
			delete(t.votes, id)
			delete(t.floor, id)
			delete(t.support, id)
		}
	}
	for _, id := range validators.IDs() {
		t.raiseFloor(id, t.lib)
	}
	t.validators = validators
	logx.Info("CONSENSUS", fmt.Sprintf("validator set updated: validators=%d total_stake=%s",
		validators.Len(), validators.TotalStake().Dec()))
}

func (t *Tracker) Validators() *ValidatorSet {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.validators
}

// Reset commits lib without confirmations, as after a restart, and clears a
// halt.
func (t *Tracker) Reset(lib uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lib = lib
	t.halted = false
	t.support = make(map[string]uint64)
	t.floor = make(map[string]uint64)
	for _, id := range t.validators.IDs() {
		t.floor[id] = lib
	}
	t.pruneLocked(lib)
}

// Prune drops votes at or below lib, folding them into per-validator floors.
func (t *Tracker) Prune(lib uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked(lib)
}

func (t *Tracker) pruneLocked(lib uint64) {
	if lib > t.lib {
		lib = t.lib
	}
	for n, set := range t.byNumber {
		if n > lib {
			continue
		}
		for id := range set {
			t.raiseFloor(id, n)
		}
		delete(t.byNumber, n)
	}
	for id, votes := range t.votes {
		for blockID, v := range votes {
			if v.number <= lib {
				delete(votes, blockID)
			}
		}
		if len(votes) == 0 {
			delete(t.votes, id)
		}
	}
}

func (t *Tracker) LastIrreversible() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lib
}

func (t *Tracker) Halted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.halted
}

// Status reports the state of number as of the last Recompute.
func (t *Tracker) Status(number uint64) Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	if number <= t.lib {
		return Irreversible
	}
	for _, s := range t.support {
		if s >= number {
			return Confirmed
		}
	}
	return Pending
}

// Confirmations counts validators with a recorded confirmation at number.
func (t *Tracker) Confirmations(number uint64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byNumber[number])
}
