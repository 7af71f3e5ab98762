package blockchain

import (
	"errors"
	"fmt"
	"math"
)

const (
	// GenesisProof is the bootstrap proof of the first block. It is known to every node so the
	// genesis block itself never has to satisfy the puzzle.
	GenesisProof uint64 = 100

	// GenesisPreviousHash marks the genesis block as having no real predecessor.
	GenesisPreviousHash = "1"

	// RewardSender is the reserved identity paying out mining rewards.
	RewardSender = "0"

	// RewardAmount is paid to the miner of every sealed block.
	RewardAmount float64 = 1
)

var ErrInvalidTransaction = errors.New("invalid transaction")

type Transaction struct {
	Sender    string  `json:"sender"`
	Recipient string  `json:"recipient"`
	Amount    float64 `json:"amount"`
}

type Block struct {
	Index        uint64        `json:"index"`
	Timestamp    float64       `json:"timestamp"`
	Transactions []Transaction `json:"transactions"`
	Proof        uint64        `json:"proof"`
	PreviousHash string        `json:"previous_hash"`
}

// NewTransaction checks the shape of a transaction. Balances are not tracked so amounts are only
// required to be representable.
func NewTransaction(sender, recipient string, amount float64) (Transaction, error) {
	if sender == "" {
		return Transaction{}, fmt.Errorf("%w: sender is required", ErrInvalidTransaction)
	}
	if recipient == "" {
		return Transaction{}, fmt.Errorf("%w: recipient is required", ErrInvalidTransaction)
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return Transaction{}, fmt.Errorf("%w: amount must be a finite number", ErrInvalidTransaction)
	}
	return Transaction{Sender: sender, Recipient: recipient, Amount: amount}, nil
}

// RewardTransaction pays the block reward to the miner.
func RewardTransaction(miner string) Transaction {
	return Transaction{Sender: RewardSender, Recipient: miner, Amount: RewardAmount}
}

// Clone returns a copy of the block which shares no memory with the original.
func (b Block) Clone() Block {
	if b.Transactions != nil {
		txs := make([]Transaction, len(b.Transactions))
		copy(txs, b.Transactions)
		b.Transactions = txs
	}
	return b
}

// CloneChain deep copies a sequence of blocks.
func CloneChain(blocks []Block) []Block {
	if blocks == nil {
		return nil
	}
	res := make([]Block, len(blocks))
	for i := range blocks {
		res[i] = blocks[i].Clone()
	}
	return res
}

// IsGenesis reports whether the block has the shape of a genesis block.
func (b *Block) IsGenesis() bool {
	return b.Index == 1 &&
		b.PreviousHash == GenesisPreviousHash &&
		b.Proof == GenesisProof &&
		len(b.Transactions) == 0
}
