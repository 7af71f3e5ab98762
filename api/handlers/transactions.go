package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"powledger/blockchain"
	"powledger/p2p"
)

func HandleNewTransaction(w http.ResponseWriter, r *http.Request, svc NodeService) {
	var req p2p.TransactionRequest
	if err := p2p.Decode(r.Body, r.Header.Get(p2p.ContentType), &req); err != nil {
		ErrorResponse(w, r, http.StatusBadRequest, fmt.Errorf("%w: %v", p2p.ErrMalformedRequest, err))
		return
	}
	if err := req.Validate(); err != nil {
		ErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}

	idx, err := svc.SubmitTransaction(*req.Sender, *req.Recipient, *req.Amount)
	if err != nil {
		if errors.Is(err, blockchain.ErrInvalidTransaction) {
			ErrorResponse(w, r, http.StatusBadRequest, err)
			return
		}
		ErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}

	WriteResponse(w, r, http.StatusCreated, p2p.TransactionResponse{
		Message: fmt.Sprintf("Transaction will be added to Block %d", idx),
		Index:   idx,
	})
}
