package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog/hlog"

	"powledger/blockchain"
	"powledger/node"
	"powledger/p2p"
)

// NodeService is the node as seen by the API.
type NodeService interface {
	Mine(ctx context.Context) (blockchain.Block, error)
	SubmitTransaction(sender, recipient string, amount float64) (uint64, error)
	Chain() node.ChainSnapshot
	RegisterPeers(addresses []string) ([]string, error)
	Peers() []string
	Resolve(ctx context.Context) (bool, []blockchain.Block, error)
}

// WriteResponse encodes data as CBOR when the client asked for it, as JSON otherwise.
func WriteResponse(w http.ResponseWriter, r *http.Request, code int, data any) {
	if p2p.WantsCbor(r.Header.Get(p2p.Accept)) {
		w.Header().Set(p2p.ContentType, p2p.ApplicationCbor)
		w.WriteHeader(code)
		if err := cbor.NewEncoder(w).Encode(data); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("failed to encode response data as cbor")
		}
		return
	}
	w.Header().Set(p2p.ContentType, p2p.ApplicationJson)
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("failed to encode response data as json")
	}
}

// ErrorResponse always uses JSON so that any client can read the message.
func ErrorResponse(w http.ResponseWriter, r *http.Request, code int, err error) {
	if code >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	} else {
		hlog.FromRequest(r).Debug().Err(err).Str("path", r.URL.Path).Msg("bad request")
	}
	w.Header().Set(p2p.ContentType, p2p.ApplicationJson)
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(p2p.ErrorResponse{Message: err.Error()}); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("failed to encode error response as json")
	}
}

// cancelledResponse handles errors of operations bound to the request context.
func cancelledResponse(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		ErrorResponse(w, r, http.StatusServiceUnavailable, err)
		return
	}
	ErrorResponse(w, r, http.StatusInternalServerError, err)
}
