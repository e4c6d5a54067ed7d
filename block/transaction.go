package block

import "crypto/sha256"

type Transaction struct {
	ID      ID     `json:"id"`
	Payload []byte `json:"payload"`
}

// NewTransaction derives the id from the payload.
func NewTransaction(payload []byte) *Transaction {
	return &Transaction{
		ID:      sha256.Sum256(payload),
		Payload: payload,
	}
}
