package blockchain

import (
	"errors"
	"fmt"
)

var ErrInvalidChain = errors.New("invalid chain")

// ErrBrokenLink is returned when a block does not connect to its predecessor.
type ErrBrokenLink struct {
	Index  uint64
	Reason string
}

func (e ErrBrokenLink) Error() string {
	return fmt.Sprintf("block %d: %s", e.Index, e.Reason)
}

func (e ErrBrokenLink) Is(target error) bool {
	return target == ErrInvalidChain
}

func validateGenesis(block *Block) error {
	if !block.IsGenesis() {
		return fmt.Errorf("%w: first block is not a genesis block", ErrInvalidChain)
	}
	return nil
}

// validateLink checks a single block against its predecessor. Only the O(1) predicate is
// evaluated, the proof search is never repeated.
func validateLink(prev, block *Block, pow *ProofOfWork) error {
	if block.Index != prev.Index+1 {
		return ErrBrokenLink{Index: block.Index, Reason: fmt.Sprintf("index does not follow %d", prev.Index)}
	}
	if block.PreviousHash != HashBlock(prev) {
		return ErrBrokenLink{Index: block.Index, Reason: "previous hash does not match"}
	}
	if !pow.ValidProof(prev.Proof, block.Proof) {
		return ErrBrokenLink{Index: block.Index, Reason: fmt.Sprintf("proof %d is not valid after %d", block.Proof, prev.Proof)}
	}
	return nil
}

// ValidateChain walks the chain from genesis to tip and returns an error wrapping
// ErrInvalidChain for the first violation found.
func ValidateChain(chain []Block, pow *ProofOfWork) error {
	if len(chain) == 0 {
		return fmt.Errorf("%w: chain has no blocks", ErrInvalidChain)
	}
	if err := validateGenesis(&chain[0]); err != nil {
		return err
	}
	for i := 1; i < len(chain); i++ {
		if err := validateLink(&chain[i-1], &chain[i], pow); err != nil {
			return err
		}
	}
	return nil
}
