package db

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/mr-tron/base58"
)

// Key layout shared by the block store and the providers that need to render
// keys as text.
const (
	PrefixBlock       = "blk:"          // + 32-byte block id -> block json
	PrefixBlockMeta   = "blk_meta:"     // + name -> metadata value
	PrefixFinal       = "blk_final:"    // + 8-byte big-endian number -> block id
	PrefixFinalByID   = "blk_final_id:" // + 32-byte block id -> 8-byte number
	blockIDLen        = 32
	blockNumberKeyLen = 8
)

func BlockKey(id [32]byte) []byte {
	return append([]byte(PrefixBlock), id[:]...)
}

func MetaKey(name string) []byte {
	return []byte(PrefixBlockMeta + name)
}

func FinalKey(number uint64) []byte {
	key := make([]byte, len(PrefixFinal)+blockNumberKeyLen)
	copy(key, PrefixFinal)
	binary.BigEndian.PutUint64(key[len(PrefixFinal):], number)
	return key
}

func FinalByIDKey(id [32]byte) []byte {
	return append([]byte(PrefixFinalByID), id[:]...)
}

// convertKeyToHumanReadable renders binary key suffixes so redis-cli output
// stays legible.
func convertKeyToHumanReadable(key []byte) string {
	keyStr := string(key)

	switch {
	case strings.HasPrefix(keyStr, PrefixFinalByID) && len(key) == len(PrefixFinalByID)+blockIDLen:
		return PrefixFinalByID + base58.Encode(key[len(PrefixFinalByID):])
	case strings.HasPrefix(keyStr, PrefixFinal) && len(key) == len(PrefixFinal)+blockNumberKeyLen:
		return fmt.Sprintf("%s%d", PrefixFinal, binary.BigEndian.Uint64(key[len(PrefixFinal):]))
	case strings.HasPrefix(keyStr, PrefixBlock) && len(key) == len(PrefixBlock)+blockIDLen:
		return PrefixBlock + base58.Encode(key[len(PrefixBlock):])
	}

	return keyStr
}

// convertKeyFromHumanReadable is the inverse of convertKeyToHumanReadable.
func convertKeyFromHumanReadable(key string) []byte {
	switch {
	case strings.HasPrefix(key, PrefixFinalByID):
		if raw, err := base58.Decode(key[len(PrefixFinalByID):]); err == nil && len(raw) == blockIDLen {
			return append([]byte(PrefixFinalByID), raw...)
		}
	case strings.HasPrefix(key, PrefixFinal):
		if n, err := strconv.ParseUint(key[len(PrefixFinal):], 10, 64); err == nil {
			return FinalKey(n)
		}
	case strings.HasPrefix(key, PrefixBlock):
		if raw, err := base58.Decode(key[len(PrefixBlock):]); err == nil && len(raw) == blockIDLen {
			return append([]byte(PrefixBlock), raw...)
		}
	}
	return []byte(key)
}
