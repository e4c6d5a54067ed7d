package consensus

import (
	"fmt"
	"sort"

	"github.com/holiman/uint256"
)

type Validator struct {
	ID    string
	Stake *uint256.Int
}

// ValidatorSet is immutable; changes go through Tracker.SetValidators with a
// new set.
type ValidatorSet struct {
	stakes map[string]*uint256.Int
	ids    []string
	total  *uint256.Int
}

func NewValidatorSet(validators []Validator) (*ValidatorSet, error) {
	vs := &ValidatorSet{
		stakes: make(map[string]*uint256.Int, len(validators)),
		total:  new(uint256.Int),
	}
	for _, v := range validators {
		if v.ID == "" {
			return nil, fmt.Errorf("validator with empty id")
		}
		if _, dup := vs.stakes[v.ID]; dup {
			return nil, fmt.Errorf("duplicate validator %s", v.ID)
		}
		stake := v.Stake
		if stake == nil {
			stake = uint256.NewInt(1)
		}
		if stake.IsZero() {
			return nil, fmt.Errorf("validator %s has zero stake", v.ID)
		}
		vs.stakes[v.ID] = stake.Clone()
		vs.ids = append(vs.ids, v.ID)
		vs.total.Add(vs.total, stake)
	}
	sort.Strings(vs.ids)
	return vs, nil
}

// NewEqualValidatorSet gives every validator a stake of 1.
func NewEqualValidatorSet(ids ...string) (*ValidatorSet, error) {
	validators := make([]Validator, len(ids))
	for i, id := range ids {
		validators[i] = Validator{ID: id, Stake: uint256.NewInt(1)}
	}
	return NewValidatorSet(validators)
}

func (vs *ValidatorSet) Contains(id string) bool {
	_, ok := vs.stakes[id]
	return ok
}

// Stake returns a copy; zero for unknown validators.
func (vs *ValidatorSet) Stake(id string) *uint256.Int {
	if s, ok := vs.stakes[id]; ok {
		return s.Clone()
	}
	return new(uint256.Int)
}

func (vs *ValidatorSet) TotalStake() *uint256.Int {
	return vs.total.Clone()
}

func (vs *ValidatorSet) Len() int {
	return len(vs.ids)
}

// IDs is sorted.
func (vs *ValidatorSet) IDs() []string {
	out := make([]string, len(vs.ids))
	copy(out, vs.ids)
	return out
}

// IsSupermajority reports 3*stake > 2*total.
func (vs *ValidatorSet) IsSupermajority(stake *uint256.Int) bool {
	if vs.total.IsZero() {
		return false
	}
	lhs := new(uint256.Int).Mul(stake, uint256.NewInt(3))
	rhs := new(uint256.Int).Mul(vs.total, uint256.NewInt(2))
	return lhs.Gt(rhs)
}
