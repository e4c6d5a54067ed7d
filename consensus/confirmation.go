package consensus

import (
	"crypto/ed25519"
	"fmt"

	"github.com/mezonai/chainfork/block"
	"github.com/mezonai/chainfork/jsonx"
	"github.com/mr-tron/base58"
)

// Confirmation is a validator attesting to a block and, implicitly, to all
// of its ancestors.
type Confirmation struct {
	BlockID     block.ID `json:"block_id"`
	BlockNumber uint64   `json:"block_number"`
	Validator   string   `json:"validator"`
	Signature   []byte   `json:"signature,omitempty"`
}

// serializeConfirmation excludes Signature so signer and verifier hash the
// same bytes.
func (c *Confirmation) serializeConfirmation() []byte {
	data, _ := jsonx.Marshal(struct {
		BlockID     block.ID
		BlockNumber uint64
		Validator   string
	}{
		BlockID:     c.BlockID,
		BlockNumber: c.BlockNumber,
		Validator:   c.Validator,
	})
	return data
}

func (c *Confirmation) Sign(priv ed25519.PrivateKey) {
	c.Signature = ed25519.Sign(priv, c.serializeConfirmation())
}

// Verify treats Validator as a base58 ed25519 public key.
func (c *Confirmation) Verify() error {
	pub, err := base58.Decode(c.Validator)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("validator %q is not an ed25519 public key", c.Validator)
	}
	if !ed25519.Verify(pub, c.serializeConfirmation(), c.Signature) {
		return fmt.Errorf("invalid confirmation signature from %s", c.Validator)
	}
	return nil
}

func (c *Confirmation) Validate() error {
	if c.Validator == "" {
		return fmt.Errorf("missing validator")
	}
	if c.BlockID.IsZero() {
		return fmt.Errorf("missing block id")
	}
	return nil
}
