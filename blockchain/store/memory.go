package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"powledger/blockchain"
)

var (
	// ErrStaleTip is returned by SealBlock when the chain tip changed after the proof search
	// started. Nothing is modified in that case.
	ErrStaleTip = errors.New("chain tip changed")

	ErrEmptyChain = errors.New("chain has no blocks")
)

type Option func(*MemoryChainStore)

// WithClock overrides the time source used for block timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *MemoryChainStore) {
		m.now = now
	}
}

// MemoryChainStore keeps the chain and the pending transactions in process memory. A single
// mutex guards both so a transaction is captured by exactly one block.
type MemoryChainStore struct {
	chain   []blockchain.Block
	pending []blockchain.Transaction
	now     func() time.Time
	mu      sync.RWMutex
}

// NewMemoryChainStore returns a store holding only the genesis block.
func NewMemoryChainStore(opts ...Option) *MemoryChainStore {
	m := &MemoryChainStore{now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	m.chain = []blockchain.Block{blockchain.NewGenesisBlock(m.now())}
	return m
}

func (m *MemoryChainStore) NewBlock(proof uint64, previousHash string) blockchain.Block {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.newBlockUnsafe(proof, previousHash)
}

// SealBlock pays the reward and seals the pending transactions into a new block, provided the
// tip is still the block the proof was computed against.
func (m *MemoryChainStore) SealBlock(tipHash string, proof uint64, reward blockchain.Transaction) (blockchain.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	last := m.lastBlockUnsafe()
	if h := blockchain.HashBlock(last); h != tipHash {
		return blockchain.Block{}, fmt.Errorf("%w: expected tip %s, have %s at index %d", ErrStaleTip, tipHash, h, last.Index)
	}

	m.pending = append(m.pending, reward)
	return m.newBlockUnsafe(proof, tipHash), nil
}

// newBlockUnsafe appends a block built from the pending buffer - must be called with lock held
func (m *MemoryChainStore) newBlockUnsafe(proof uint64, previousHash string) blockchain.Block {
	if previousHash == "" {
		previousHash = blockchain.HashBlock(m.lastBlockUnsafe())
	}

	block := blockchain.NewBlock(blockchain.BlockCreationParams{
		Index:        uint64(len(m.chain)) + 1,
		PreviousHash: previousHash,
		Proof:        proof,
		Transactions: m.pending,
		Timestamp:    m.now(),
	})
	m.pending = nil
	m.chain = append(m.chain, block)

	return block.Clone()
}

// NewTransaction queues tx and returns the index of the block that will contain it.
func (m *MemoryChainStore) NewTransaction(tx blockchain.Transaction) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pending = append(m.pending, tx)
	return m.lastBlockUnsafe().Index + 1
}

func (m *MemoryChainStore) LastBlock() blockchain.Block {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastBlockUnsafe().Clone()
}

// lastBlockUnsafe returns the tip without locking - must be called with lock held
func (m *MemoryChainStore) lastBlockUnsafe() *blockchain.Block {
	if len(m.chain) == 0 {
		panic("chain store holds no blocks, genesis block is missing")
	}
	return &m.chain[len(m.chain)-1]
}

func (m *MemoryChainStore) Length() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chain)
}

// Chain returns a snapshot of the chain which the caller may modify freely.
func (m *MemoryChainStore) Chain() []blockchain.Block {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return blockchain.CloneChain(m.chain)
}

func (m *MemoryChainStore) PendingTransactions() []blockchain.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]blockchain.Transaction, len(m.pending))
	copy(res, m.pending)
	return res
}

// ReplaceChain atomically replaces the entire chain - used after validation on copy
func (m *MemoryChainStore) ReplaceChain(newChain []blockchain.Block) error {
	if len(newChain) == 0 {
		return fmt.Errorf("cannot replace chain: %w", ErrEmptyChain)
	}
	cp := blockchain.CloneChain(newChain)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.chain = cp
	return nil
}

// ReplaceChainIfLonger replaces the chain only when newChain is strictly longer than the chain
// held at the moment of the swap. Blocks mined while newChain was being fetched and validated
// are therefore never thrown away for a chain that is no longer longer.
func (m *MemoryChainStore) ReplaceChainIfLonger(newChain []blockchain.Block) (bool, error) {
	if len(newChain) == 0 {
		return false, fmt.Errorf("cannot replace chain: %w", ErrEmptyChain)
	}
	cp := blockchain.CloneChain(newChain)

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(cp) <= len(m.chain) {
		return false, nil
	}
	m.chain = cp
	return true, nil
}
