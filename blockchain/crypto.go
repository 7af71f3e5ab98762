package blockchain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// canonical encoding: map keys sorted, numbers in their shortest form
var canonicalEncoding cbor.EncMode

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("creating canonical CBOR encoder: %v", err))
	}
	canonicalEncoding = em
}

// EncodeCanonical returns the deterministic byte representation of v used for hashing.
func EncodeCanonical(v any) ([]byte, error) {
	return canonicalEncoding.Marshal(v)
}

// HashBlock returns the hex encoded SHA-256 digest of the canonical encoding of the block.
// Two blocks with equal field values hash identically regardless of how they were serialized
// when they reached us.
func HashBlock(block *Block) string {
	b := *block
	// nil and empty transaction lists are the same block
	if b.Transactions == nil {
		b.Transactions = []Transaction{}
	}
	data, err := EncodeCanonical(&b)
	if err != nil {
		// only unsupported Go types fail to encode, Block has none
		panic(fmt.Sprintf("encoding block %d: %v", block.Index, err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashString returns the hex encoded SHA-256 digest of s.
func HashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
