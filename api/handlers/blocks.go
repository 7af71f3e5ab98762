package handlers

import (
	"context"
	"net/http"
	"time"

	"powledger/p2p"
)

// MineWithTimeout returns HandleMine with the proof search bounded by timeout. A search
// running out of time answers 503. Zero or negative timeout leaves the search unbounded.
func MineWithTimeout(timeout time.Duration) func(http.ResponseWriter, *http.Request, NodeService) {
	return func(w http.ResponseWriter, r *http.Request, svc NodeService) {
		if timeout > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			r = r.WithContext(ctx)
		}
		HandleMine(w, r, svc)
	}
}

// HandleMine forges a new block. The request blocks until a proof has been found, the
// search is abandoned when the client goes away.
func HandleMine(w http.ResponseWriter, r *http.Request, svc NodeService) {
	block, err := svc.Mine(r.Context())
	if err != nil {
		cancelledResponse(w, r, err)
		return
	}

	WriteResponse(w, r, http.StatusOK, p2p.MineResponse{
		Message:      p2p.MessageBlockForged,
		Index:        block.Index,
		Transactions: block.Transactions,
		Proof:        block.Proof,
		PreviousHash: block.PreviousHash,
	})
}
