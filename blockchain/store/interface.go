package store

import (
	"powledger/blockchain"
)

type ChainStore interface {

	// Update/Add/Put
	NewBlock(proof uint64, previousHash string) blockchain.Block
	SealBlock(tipHash string, proof uint64, reward blockchain.Transaction) (blockchain.Block, error)
	NewTransaction(tx blockchain.Transaction) uint64
	ReplaceChain(chain []blockchain.Block) error
	ReplaceChainIfLonger(chain []blockchain.Block) (bool, error)

	// Getters
	LastBlock() blockchain.Block
	Length() int
	Chain() []blockchain.Block
	PendingTransactions() []blockchain.Transaction
}
