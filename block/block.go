package block

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"sync"
	"time"

	"github.com/mr-tron/base58"
)

var (
	ErrHashMismatch     = errors.New("block hash mismatch")
	ErrMissingProducer  = errors.New("block has no producer")
	ErrMissingParent    = errors.New("non-genesis block has zero previous id")
	ErrInvalidSignature = errors.New("invalid producer signature")
)

var hasherPool = sync.Pool{
	New: func() interface{} {
		return sha256.New()
	},
}

// Block is immutable once assembled; every holder shares the same pointer.
type Block struct {
	ID           ID             `json:"id"`
	Number       uint64         `json:"number"`
	PreviousID   ID             `json:"previous_id"`
	Producer     string         `json:"producer"`
	Timestamp    time.Time      `json:"timestamp"`
	Transactions []*Transaction `json:"transactions"`
	Signature    []byte         `json:"signature,omitempty"`
}

func AssembleBlock(
	number uint64,
	previousID ID,
	producer string,
	timestamp time.Time,
	txs []*Transaction,
) *Block {
	b := &Block{
		Number:       number,
		PreviousID:   previousID,
		Producer:     producer,
		Timestamp:    timestamp.UTC(),
		Transactions: txs,
	}
	b.ID = b.computeHash()
	return b
}

// NewGenesis assembles block 0, the only block accepted without a parent.
func NewGenesis(producer string, timestamp time.Time) *Block {
	return AssembleBlock(0, ZeroID, producer, timestamp, nil)
}

func (b *Block) computeHash() ID {
	h := hasherPool.Get().(hash.Hash)
	defer hasherPool.Put(h)
	h.Reset()

	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, b.Number)
	h.Write(buf)
	h.Write(b.PreviousID[:])
	h.Write([]byte(b.Producer))
	binary.BigEndian.PutUint64(buf, uint64(b.Timestamp.UnixNano()))
	h.Write(buf)
	for _, tx := range b.Transactions {
		h.Write(tx.ID[:])
	}

	var out ID
	copy(out[:], h.Sum(nil))
	return out
}

func (b *Block) IsGenesis() bool {
	return b.Number == 0 && b.PreviousID.IsZero()
}

// Validate performs the structural checks that may run before the serialized
// append step.
func (b *Block) Validate() error {
	if b.Producer == "" {
		return ErrMissingProducer
	}
	if b.Number > 0 && b.PreviousID.IsZero() {
		return ErrMissingParent
	}
	if b.computeHash() != b.ID {
		return fmt.Errorf("%w: block %d %s", ErrHashMismatch, b.Number, b.ID.Short())
	}
	for i, tx := range b.Transactions {
		if tx == nil {
			return fmt.Errorf("block %d: nil transaction at %d", b.Number, i)
		}
	}
	return nil
}

func (b *Block) Sign(privKey ed25519.PrivateKey) {
	b.Signature = ed25519.Sign(privKey, b.ID[:])
}

func (b *Block) VerifySignature(pubKey ed25519.PublicKey) bool {
	return ed25519.Verify(pubKey, b.ID[:], b.Signature)
}

// VerifyProducerSignature checks the signature against the producer field,
// which holds a base58 ed25519 public key.
func (b *Block) VerifyProducerSignature() error {
	pub, err := base58.Decode(b.Producer)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: producer %q is not an ed25519 key", ErrInvalidSignature, b.Producer)
	}
	if !b.VerifySignature(pub) {
		return fmt.Errorf("%w: block %d %s", ErrInvalidSignature, b.Number, b.ID.Short())
	}
	return nil
}

func (b *Block) TxIDs() []ID {
	ids := make([]ID, len(b.Transactions))
	for i, tx := range b.Transactions {
		ids[i] = tx.ID
	}
	return ids
}

func (b *Block) String() string {
	return fmt.Sprintf("#%d(%s)", b.Number, b.ID.Short())
}
