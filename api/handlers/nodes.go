package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"powledger/node"
	"powledger/p2p"
)

func HandleRegisterNodes(w http.ResponseWriter, r *http.Request, svc NodeService) {
	var req p2p.RegisterNodesRequest
	if err := p2p.Decode(r.Body, r.Header.Get(p2p.ContentType), &req); err != nil {
		ErrorResponse(w, r, http.StatusBadRequest, fmt.Errorf("%w: %v", p2p.ErrMalformedRequest, err))
		return
	}

	peers, err := svc.RegisterPeers(req.Nodes)
	if err != nil {
		if errors.Is(err, node.ErrNoAddresses) || errors.Is(err, p2p.ErrInvalidAddress) {
			ErrorResponse(w, r, http.StatusBadRequest, fmt.Errorf("please supply a valid list of nodes: %w", err))
			return
		}
		ErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}

	WriteResponse(w, r, http.StatusOK, p2p.RegisterNodesResponse{Message: p2p.MessageNodesAdded, TotalNodes: peers})
}

func HandleNodes(w http.ResponseWriter, r *http.Request, svc NodeService) {
	WriteResponse(w, r, http.StatusOK, p2p.NodesResponse{Nodes: svc.Peers()})
}
