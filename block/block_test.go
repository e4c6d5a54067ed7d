package block

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestAssembleBlock_HashCoversFields(t *testing.T) {
	genesis := NewGenesis("producer", testTime)
	require.True(t, genesis.IsGenesis())

	tx := NewTransaction([]byte("transfer 10"))
	b1 := AssembleBlock(1, genesis.ID, "producer", testTime.Add(time.Second), []*Transaction{tx})
	b1Other := AssembleBlock(1, genesis.ID, "other", testTime.Add(time.Second), []*Transaction{tx})

	assert.NotEqual(t, b1.ID, b1Other.ID)
	assert.NoError(t, b1.Validate())
	assert.False(t, b1.IsGenesis())
	assert.Equal(t, []ID{tx.ID}, b1.TxIDs())
}

func TestValidate(t *testing.T) {
	genesis := NewGenesis("producer", testTime)

	tampered := AssembleBlock(1, genesis.ID, "producer", testTime, nil)
	tampered.Number = 2
	assert.ErrorIs(t, tampered.Validate(), ErrHashMismatch)

	noParent := AssembleBlock(3, ZeroID, "producer", testTime, nil)
	assert.ErrorIs(t, noParent.Validate(), ErrMissingParent)

	noProducer := AssembleBlock(1, genesis.ID, "", testTime, nil)
	assert.ErrorIs(t, noProducer.Validate(), ErrMissingProducer)
}

func TestProducerSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	genesis := NewGenesis(base58.Encode(pub), testTime)
	b := AssembleBlock(1, genesis.ID, base58.Encode(pub), testTime, nil)
	b.Sign(priv)
	assert.NoError(t, b.VerifyProducerSignature())

	b.Signature[0] ^= 0xff
	assert.ErrorIs(t, b.VerifyProducerSignature(), ErrInvalidSignature)
}

func TestIDTextRoundTrip(t *testing.T) {
	b := NewGenesis("producer", testTime)

	raw, err := json.Marshal(b)
	require.NoError(t, err)

	var decoded Block
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, b.ID, decoded.ID)
	assert.True(t, decoded.PreviousID.IsZero())
	assert.NoError(t, decoded.Validate())

	_, err = ParseID("not-base58-0OIl")
	assert.Error(t, err)
	_, err = ParseID(base58.Encode([]byte{1, 2, 3}))
	assert.Error(t, err)
}

func TestIDLess(t *testing.T) {
	a := ID{0x01}
	b := ID{0x02}
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.False(t, a.Less(a))
}
