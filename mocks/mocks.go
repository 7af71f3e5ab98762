package mocks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"powledger/blockchain"
)

var ErrUnreachable = errors.New("peer unreachable")

// MineChain builds a valid chain of n blocks (genesis included) with the given difficulty.
// Every mined block pays the reward to miner; extra transactions are put into the second
// block. Block timestamps start at start and increase by a second per block.
func MineChain(pow *blockchain.ProofOfWork, n int, miner string, start time.Time, txs ...blockchain.Transaction) []blockchain.Block {
	if n < 1 {
		panic(fmt.Sprintf("chain must have at least one block, got %d", n))
	}
	chain := []blockchain.Block{blockchain.NewGenesisBlock(start)}
	for len(chain) < n {
		chain = ExtendChain(pow, chain, miner, start.Add(time.Duration(len(chain))*time.Second), txs...)
		txs = nil
	}
	return chain
}

// ExtendChain returns a copy of chain with one more valid block.
func ExtendChain(pow *blockchain.ProofOfWork, chain []blockchain.Block, miner string, ts time.Time, txs ...blockchain.Transaction) []blockchain.Block {
	last := chain[len(chain)-1]
	proof, err := pow.FindProof(context.Background(), last.Proof)
	if err != nil {
		panic(err)
	}
	blockTxs := append(append([]blockchain.Transaction{}, txs...), blockchain.RewardTransaction(miner))
	block := blockchain.NewBlock(blockchain.BlockCreationParams{
		Index:        last.Index + 1,
		PreviousHash: blockchain.HashBlock(&last),
		Proof:        proof,
		Transactions: blockTxs,
		Timestamp:    ts,
	})
	return append(blockchain.CloneChain(chain), block)
}

// PeerChain is the canned answer of a peer.
type PeerChain struct {
	Chain []blockchain.Block
	// Length declared by the peer, when zero the number of blocks is used.
	Length int
	Err    error
	// Delay before answering, honours context cancellation.
	Delay time.Duration
}

// StaticFetcher serves canned chains, peers it does not know are unreachable.
type StaticFetcher struct {
	mu      sync.Mutex
	peers   map[string]PeerChain
	fetched []string
}

func NewStaticFetcher(peers map[string]PeerChain) *StaticFetcher {
	return &StaticFetcher{peers: peers}
}

func (f *StaticFetcher) FetchChain(ctx context.Context, peer string) ([]blockchain.Block, int, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, peer)
	pc, ok := f.peers[peer]
	f.mu.Unlock()

	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrUnreachable, peer)
	}
	if pc.Delay > 0 {
		select {
		case <-time.After(pc.Delay):
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}
	if pc.Err != nil {
		return nil, 0, pc.Err
	}
	length := pc.Length
	if length == 0 {
		length = len(pc.Chain)
	}
	return blockchain.CloneChain(pc.Chain), length, nil
}

// Fetched returns the peers asked so far, in call order.
func (f *StaticFetcher) Fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}
