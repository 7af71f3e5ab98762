package blockchain

import "time"

type BlockCreationParams struct {
	Index        uint64
	PreviousHash string
	Proof        uint64
	Transactions []Transaction
	Timestamp    time.Time
}

// NewBlock assembles a block from already validated parts. The transaction slice is owned by
// the new block afterwards.
func NewBlock(params BlockCreationParams) Block {
	ts := params.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	txs := params.Transactions
	if txs == nil {
		txs = []Transaction{}
	}

	return Block{
		Index:        params.Index,
		Timestamp:    Timestamp(ts),
		Transactions: txs,
		Proof:        params.Proof,
		PreviousHash: params.PreviousHash,
	}
}
