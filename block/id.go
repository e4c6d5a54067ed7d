package block

import (
	"bytes"
	"fmt"

	"github.com/mr-tron/base58"
)

// ID identifies blocks and transactions. It renders as base58 everywhere
// outside the store.
type ID [32]byte

var ZeroID ID

func (id ID) String() string {
	return base58.Encode(id[:])
}

// Short is the first 8 base58 characters, for log lines.
func (id ID) Short() string {
	s := id.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

func (id ID) IsZero() bool {
	return id == ZeroID
}

// Less is the total order used to break fork-choice ties.
func (id ID) Less(other ID) bool {
	return bytes.Compare(id[:], other[:]) < 0
}

func (id ID) Bytes() []byte {
	out := make([]byte, len(id))
	copy(out, id[:])
	return out
}

func ParseID(s string) (ID, error) {
	var id ID
	raw, err := base58.Decode(s)
	if err != nil {
		return id, fmt.Errorf("decode id %q: %w", s, err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("invalid id length %d for %q", len(raw), s)
	}
	copy(id[:], raw)
	return id, nil
}

func IDFromBytes(raw []byte) (ID, error) {
	var id ID
	if len(raw) != len(id) {
		return id, fmt.Errorf("invalid id length %d", len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*id = ZeroID
		return nil
	}
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
