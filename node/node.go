package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"powledger/blockchain"
	"powledger/blockchain/store"
	"powledger/consensus"
	"powledger/logger"
	"powledger/metrics"
	"powledger/p2p"
)

var ErrNoAddresses = errors.New("no node addresses given")

// Config holds all configuration for a node
type Config struct {
	// NodeID identifies the node as the recipient of mining rewards.
	NodeID               string
	Difficulty           int
	FetchTimeout         time.Duration
	MaxConcurrentFetches int
	// Seeds are registered as peers on bootstrap.
	Seeds            []string
	BootstrapTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Difficulty:           blockchain.DefaultDifficulty,
		FetchTimeout:         consensus.DefaultFetchTimeout,
		MaxConcurrentFetches: consensus.DefaultMaxConcurrentFetches,
		BootstrapTimeout:     time.Minute,
	}
}

// ChainSnapshot is a consistent copy of the chain; Length always equals len(Chain).
type ChainSnapshot struct {
	Chain  []blockchain.Block
	Length int
}

// Node owns the chain, the pending transactions and the peer set of one participant and
// implements the operations exposed by the API.
type Node struct {
	// mu serializes every write to the chain, the pending buffer and the peer set. Reads go
	// straight to the store and the registry, which keep their own locks for snapshots.
	mu       sync.Mutex
	config   Config
	store    store.ChainStore
	peers    *p2p.PeerRegistry
	pow      *blockchain.ProofOfWork
	resolver *consensus.Resolver
	// the proof search is CPU bound, one search at a time per node
	miner   *semaphore.Weighted
	log     zerolog.Logger
	metrics *metrics.Metrics
}

type Option func(*Node)

func WithLogger(l zerolog.Logger) Option {
	return func(n *Node) { n.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Node) { n.metrics = m }
}

// WithChainStore replaces the default in-memory store.
func WithChainStore(s store.ChainStore) Option {
	return func(n *Node) { n.store = s }
}

// New creates a node holding only the genesis block. Peer chains are downloaded with
// fetcher during resolution.
func New(config Config, fetcher consensus.ChainFetcher, opts ...Option) (*Node, error) {
	if config.NodeID == "" {
		return nil, errors.New("node identifier is required")
	}
	pow, err := blockchain.NewProofOfWork(config.Difficulty)
	if err != nil {
		return nil, fmt.Errorf("invalid node config: %w", err)
	}

	n := &Node{
		config: config,
		peers:  p2p.NewPeerRegistry(),
		pow:    pow,
		miner:  semaphore.NewWeighted(1),
		log:    zerolog.Nop(),
	}
	for _, o := range opts {
		o(n)
	}
	if n.store == nil {
		n.store = store.NewMemoryChainStore()
	}
	n.log = logger.NodeID(n.log, config.NodeID)

	n.resolver, err = consensus.NewResolver(fetcher, pow,
		consensus.WithFetchTimeout(config.FetchTimeout),
		consensus.WithMaxConcurrentFetches(config.MaxConcurrentFetches),
		consensus.WithLogger(logger.Module(n.log, "consensus")),
		consensus.WithMetrics(n.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resolver: %w", err)
	}
	n.metrics.SetChainLength(n.store.Length())
	return n, nil
}

func (n *Node) ID() string { return n.config.NodeID }

/*
Mine searches a proof for the current tip and seals a new block holding the pending
transactions and the mining reward.

The search runs without holding the chain lock. When the tip is replaced while searching
(another mined block or consensus replacing the chain) the proof is discarded and the search
starts over against the new tip.
*/
func (n *Node) Mine(ctx context.Context) (blockchain.Block, error) {
	if err := n.miner.Acquire(ctx, 1); err != nil {
		return blockchain.Block{}, fmt.Errorf("waiting for miner: %w", err)
	}
	defer n.miner.Release(1)

	for {
		last := n.store.LastBlock()
		tip := blockchain.HashBlock(&last)

		began := time.Now()
		proof, err := n.pow.FindProof(ctx, last.Proof)
		if err != nil {
			return blockchain.Block{}, err
		}

		n.mu.Lock()
		block, err := n.store.SealBlock(tip, proof, blockchain.RewardTransaction(n.config.NodeID))
		n.mu.Unlock()
		if errors.Is(err, store.ErrStaleTip) {
			n.metrics.StaleSeal()
			n.log.Debug().Err(err).Msg("tip changed during proof search, retrying")
			continue
		}
		if err != nil {
			return blockchain.Block{}, fmt.Errorf("sealing block: %w", err)
		}

		n.metrics.BlockMined(time.Since(began), proof+1)
		n.metrics.SetChainLength(int(block.Index))
		n.log.Info().Uint64(logger.IndexKey, block.Index).Uint64("proof", proof).Int("transactions", len(block.Transactions)).Msg("block forged")
		return block, nil
	}
}

// SubmitTransaction queues a transaction and returns the index of the block it is
// expected to be recorded in.
func (n *Node) SubmitTransaction(sender, recipient string, amount float64) (uint64, error) {
	tx, err := blockchain.NewTransaction(sender, recipient, amount)
	if err != nil {
		return 0, err
	}
	n.mu.Lock()
	idx := n.store.NewTransaction(tx)
	n.mu.Unlock()
	n.metrics.TransactionSubmitted()
	n.log.Debug().Uint64(logger.IndexKey, idx).Msg("transaction queued")
	return idx, nil
}

func (n *Node) Chain() ChainSnapshot {
	chain := n.store.Chain()
	return ChainSnapshot{Chain: chain, Length: len(chain)}
}

func (n *Node) PendingTransactions() []blockchain.Transaction {
	return n.store.PendingTransactions()
}

// RegisterPeers adds the addresses to the peer set and returns the whole set. Either all
// addresses are registered or, when one of them is invalid, none.
func (n *Node) RegisterPeers(addresses []string) ([]string, error) {
	if len(addresses) == 0 {
		return nil, ErrNoAddresses
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, err := n.peers.RegisterAll(addresses); err != nil {
		return nil, err
	}
	n.metrics.SetPeerCount(n.peers.Len())
	return n.peers.Peers(), nil
}

// RegisterPeer adds a single address to the peer set, used by LAN discovery.
func (n *Node) RegisterPeer(address string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	peer, err := n.peers.Register(address)
	if err != nil {
		return "", err
	}
	n.metrics.SetPeerCount(n.peers.Len())
	return peer, nil
}

func (n *Node) Peers() []string {
	return n.peers.Peers()
}

// Resolve runs consensus against all registered peers. It returns whether the local chain
// was replaced together with the chain held afterwards.
func (n *Node) Resolve(ctx context.Context) (bool, []blockchain.Block, error) {
	out, err := n.resolve(ctx)
	if err != nil {
		return false, n.store.Chain(), err
	}
	return out.Replaced, n.store.Chain(), nil
}

func (n *Node) resolve(ctx context.Context) (consensus.Outcome, error) {
	peers := n.peers.Peers()
	out, err := n.resolver.Resolve(ctx, peers, guardedChain{n})
	if err != nil {
		return out, err
	}
	n.metrics.SetChainLength(out.Length)
	n.log.Debug().Int("peers", len(peers)).Int("reached", out.Reached).Int("failed", out.Failed).Bool("replaced", out.Replaced).Msg("chain conflicts resolved")
	return out, nil
}

// guardedChain commits consensus results under the write lock of the node.
type guardedChain struct {
	n *Node
}

func (g guardedChain) Length() int {
	return g.n.store.Length()
}

func (g guardedChain) ReplaceChainIfLonger(chain []blockchain.Block) (bool, error) {
	g.n.mu.Lock()
	defer g.n.mu.Unlock()
	return g.n.store.ReplaceChainIfLonger(chain)
}
