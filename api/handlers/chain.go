package handlers

import (
	"net/http"

	"powledger/p2p"
)

func HandleChain(w http.ResponseWriter, r *http.Request, svc NodeService) {
	snap := svc.Chain()
	WriteResponse(w, r, http.StatusOK, p2p.ChainResponse{Chain: snap.Chain, Length: snap.Length})
}

func HandleResolve(w http.ResponseWriter, r *http.Request, svc NodeService) {
	replaced, chain, err := svc.Resolve(r.Context())
	if err != nil {
		cancelledResponse(w, r, err)
		return
	}

	msg := p2p.MessageChainKept
	if replaced {
		msg = p2p.MessageChainReplace
	}
	WriteResponse(w, r, http.StatusOK, p2p.ResolveResponse{Message: msg, Replaced: replaced, NewChain: chain})
}
