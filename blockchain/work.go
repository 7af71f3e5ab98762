package blockchain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
)

const (
	// DefaultDifficulty is the number of leading zero hex characters a proof digest needs.
	DefaultDifficulty = 4

	// the search polls for cancellation once per this many candidates
	cancelCheckInterval = 1 << 12
)

type ProofOfWork struct {
	Difficulty int
	prefix     string
}

func NewProofOfWork(difficulty int) (*ProofOfWork, error) {
	if difficulty < 1 || difficulty > 64 {
		return nil, fmt.Errorf("difficulty must be between 1 and 64, got %d", difficulty)
	}
	return &ProofOfWork{
		Difficulty: difficulty,
		prefix:     strings.Repeat("0", difficulty),
	}, nil
}

// ValidProof reports whether hash(lastProof*proof) starts with Difficulty zero hex characters.
// The product is computed with arbitrary precision so large proofs never wrap around.
func (p *ProofOfWork) ValidProof(lastProof, proof uint64) bool {
	var product big.Int
	product.Mul(new(big.Int).SetUint64(lastProof), new(big.Int).SetUint64(proof))
	return strings.HasPrefix(HashString(product.String()), p.prefix)
}

// FindProof searches candidates 0, 1, 2, ... until one satisfies ValidProof against lastProof.
// The search is CPU bound and unbounded, the only way to stop it early is to cancel ctx.
func (p *ProofOfWork) FindProof(ctx context.Context, lastProof uint64) (uint64, error) {
	for proof := uint64(0); ; proof++ {
		if proof%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return 0, fmt.Errorf("proof search aborted at candidate %d: %w", proof, err)
			}
		}
		if p.ValidProof(lastProof, proof) {
			return proof, nil
		}
	}
}
