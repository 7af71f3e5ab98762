/*
Package consensus implements the "longest valid chain wins" reconciliation between nodes.
*/
package consensus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"powledger/blockchain"
	"powledger/logger"
	"powledger/metrics"
	"powledger/p2p"
)

const (
	DefaultFetchTimeout         = 5 * time.Second
	DefaultMaxConcurrentFetches = 16
)

// ChainFetcher downloads the chain of a peer. The declared length is what the peer claims
// the length of the chain is, it is checked against the number of blocks returned.
type ChainFetcher interface {
	FetchChain(ctx context.Context, peer string) (chain []blockchain.Block, declaredLength int, err error)
}

// ChainReplacer is the local chain the resolver reconciles.
type ChainReplacer interface {
	Length() int
	// ReplaceChainIfLonger must compare and swap atomically.
	ReplaceChainIfLonger(chain []blockchain.Block) (bool, error)
}

type Outcome struct {
	Replaced bool
	// Length of the local chain after resolution.
	Length int
	// Source is the peer whose chain was adopted, empty when nothing was replaced.
	Source string
	// Reached is the number of peers which returned a well formed chain.
	Reached int
	// Failed is the number of peers skipped because of an error or an invalid chain.
	Failed int
}

type Resolver struct {
	fetcher      ChainFetcher
	pow          *blockchain.ProofOfWork
	fetchTimeout time.Duration
	maxFetches   int
	log          zerolog.Logger
	metrics      *metrics.Metrics
}

type Option func(*Resolver)

func WithFetchTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.fetchTimeout = d
		}
	}
}

func WithMaxConcurrentFetches(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxFetches = n
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

func NewResolver(fetcher ChainFetcher, pow *blockchain.ProofOfWork, opts ...Option) (*Resolver, error) {
	if fetcher == nil {
		return nil, errors.New("chain fetcher is nil")
	}
	if pow == nil {
		return nil, errors.New("proof of work is nil")
	}
	r := &Resolver{
		fetcher:      fetcher,
		pow:          pow,
		fetchTimeout: DefaultFetchTimeout,
		maxFetches:   DefaultMaxConcurrentFetches,
		log:          zerolog.Nop(),
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

type candidate struct {
	peer   string
	chain  []blockchain.Block
	failed bool
}

/*
Resolve asks every peer for its chain and replaces the local chain with the longest valid
one, provided it is strictly longer than the local chain. Peers are queried concurrently,
a peer which can't be reached or returns a malformed or invalid chain is skipped. When
several peers offer valid chains of the same maximum length the one with the lowest
address wins.

Only cancellation of ctx and failure to commit are returned as errors.
*/
func (r *Resolver) Resolve(ctx context.Context, peers []string, local ChainReplacer) (Outcome, error) {
	maxLength := local.Length()
	results := make([]candidate, len(peers))

	g := errgroup.Group{}
	g.SetLimit(r.maxFetches)
	for i, peer := range peers {
		i, peer := i, peer
		g.Go(func() error {
			results[i] = r.fetchCandidate(ctx, peer, maxLength)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return Outcome{Length: local.Length()}, fmt.Errorf("resolving chain conflicts: %w", err)
	}

	out := Outcome{}
	var best *candidate
	for i := range results {
		c := &results[i]
		if c.failed {
			out.Failed++
			continue
		}
		out.Reached++
		if c.chain == nil {
			continue
		}
		if best == nil || len(c.chain) > len(best.chain) || (len(c.chain) == len(best.chain) && c.peer < best.peer) {
			best = c
		}
	}

	if best != nil {
		replaced, err := local.ReplaceChainIfLonger(best.chain)
		if err != nil {
			return Outcome{Length: local.Length()}, fmt.Errorf("replacing chain with the one from %s: %w", best.peer, err)
		}
		if replaced {
			out.Replaced = true
			out.Source = best.peer
			r.log.Info().Str(logger.PeerKey, best.peer).Int("length", len(best.chain)).Msg("local chain replaced")
		} else {
			r.log.Debug().Str(logger.PeerKey, best.peer).Msg("local chain grew while resolving, candidate dropped")
		}
	}
	out.Length = local.Length()
	r.metrics.Resolved(out.Replaced)
	return out, nil
}

// fetchCandidate returns the chain of the peer when it is a valid candidate for replacing
// the local chain.
func (r *Resolver) fetchCandidate(ctx context.Context, peer string, maxLength int) candidate {
	ctx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()

	log := r.log.With().Str(logger.PeerKey, peer).Logger()
	chain, declared, err := r.fetcher.FetchChain(ctx, peer)
	if err != nil {
		log.Warn().Err(err).Msg("fetching chain")
		r.metrics.PeerFailure(metrics.ReasonUnreachable)
		return candidate{peer: peer, failed: true}
	}
	if err := (&p2p.ChainResponse{Chain: chain, Length: declared}).Validate(); err != nil {
		log.Warn().Err(err).Msg("malformed chain response")
		r.metrics.PeerFailure(metrics.ReasonMalformed)
		return candidate{peer: peer, failed: true}
	}
	if len(chain) <= maxLength {
		log.Debug().Int("length", len(chain)).Msg("peer chain is not longer than ours")
		return candidate{peer: peer}
	}
	if err := blockchain.ValidateChain(chain, r.pow); err != nil {
		log.Warn().Err(err).Msg("peer chain is invalid")
		r.metrics.PeerFailure(metrics.ReasonInvalidChain)
		return candidate{peer: peer, failed: true}
	}
	return candidate{peer: peer, chain: chain}
}
