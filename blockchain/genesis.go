package blockchain

import "time"

// NewGenesisBlock creates the first block of a chain. Nodes do not share a genesis timestamp,
// only its shape (index, sentinel previous hash and bootstrap proof) is checked by peers.
func NewGenesisBlock(now time.Time) Block {
	return Block{
		Index:        1,
		Timestamp:    Timestamp(now),
		Transactions: []Transaction{},
		Proof:        GenesisProof,
		PreviousHash: GenesisPreviousHash,
	}
}

// Timestamp converts t to fractional seconds since the Unix epoch.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
