package p2p

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"powledger/blockchain"
)

const (
	ContentType     = "Content-Type"
	Accept          = "Accept"
	ApplicationJson = "application/json"
	ApplicationCbor = "application/cbor"
)

// API paths served by every node.
const (
	MinePath           = "/mine"
	NewTransactionPath = "/transactions/new"
	ChainPath          = "/chain"
	RegisterNodesPath  = "/nodes/register"
	NodesPath          = "/nodes"
	ResolvePath        = "/nodes/resolve"
	MetricsPath        = "/metrics"
)

const (
	MessageBlockForged  = "New Block Forged"
	MessageChainReplace = "Our chain was replaced"
	MessageChainKept    = "Our chain is authoritative"
	MessageNodesAdded   = "New nodes have been added"
)

type (
	ChainResponse struct {
		Chain  []blockchain.Block `json:"chain"`
		Length int                `json:"length"`
	}

	MineResponse struct {
		Message      string                   `json:"message"`
		Index        uint64                   `json:"index"`
		Transactions []blockchain.Transaction `json:"transactions"`
		Proof        uint64                   `json:"proof"`
		PreviousHash string                   `json:"previous_hash"`
	}

	// TransactionRequest uses pointers so a missing or null field can be told apart from a
	// zero value.
	TransactionRequest struct {
		Sender    *string  `json:"sender"`
		Recipient *string  `json:"recipient"`
		Amount    *float64 `json:"amount"`
	}

	TransactionResponse struct {
		Message string `json:"message"`
		Index   uint64 `json:"index"`
	}

	RegisterNodesRequest struct {
		Nodes []string `json:"nodes"`
	}

	RegisterNodesResponse struct {
		Message    string   `json:"message"`
		TotalNodes []string `json:"total_nodes"`
	}

	NodesResponse struct {
		Nodes []string `json:"nodes"`
	}

	ResolveResponse struct {
		Message  string             `json:"message"`
		Replaced bool               `json:"replaced"`
		NewChain []blockchain.Block `json:"new_chain"`
	}

	ErrorResponse struct {
		Message string `json:"message"`
	}
)

var ErrMalformedRequest = errors.New("malformed request")

func NewTransactionRequest(sender, recipient string, amount float64) *TransactionRequest {
	return &TransactionRequest{Sender: &sender, Recipient: &recipient, Amount: &amount}
}

// Validate checks that all fields were present in the request.
func (r *TransactionRequest) Validate() error {
	var missing []string
	if r.Sender == nil {
		missing = append(missing, "sender")
	}
	if r.Recipient == nil {
		missing = append(missing, "recipient")
	}
	if r.Amount == nil {
		missing = append(missing, "amount")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing values: %s", ErrMalformedRequest, strings.Join(missing, ", "))
	}
	return nil
}

// Validate checks that the declared length matches the number of blocks sent.
func (r *ChainResponse) Validate() error {
	if r.Length != len(r.Chain) {
		return fmt.Errorf("declared length %d does not match %d blocks", r.Length, len(r.Chain))
	}
	return nil
}

// WantsCbor reports whether the Accept header value prefers the CBOR encoding. CBOR has to
// be listed explicitly with a quality above zero and not below the quality of JSON.
func WantsCbor(accept string) bool {
	qCbor, qJson := -1.0, -1.0
	for _, part := range strings.Split(accept, ",") {
		mt, params, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		q := 1.0
		if v, ok := params["q"]; ok {
			if q, err = strconv.ParseFloat(v, 64); err != nil {
				continue
			}
		}
		switch mt {
		case ApplicationCbor:
			qCbor = q
		case ApplicationJson:
			qJson = q
		}
	}
	return qCbor > 0 && qCbor >= qJson
}

// Decode reads a message from r using the codec matching the content type, JSON unless the
// content type is CBOR.
func Decode(r io.Reader, contentType string, v any) error {
	mt, _, _ := mime.ParseMediaType(contentType)
	if mt == ApplicationCbor {
		if err := cbor.NewDecoder(r).Decode(v); err != nil {
			return fmt.Errorf("decoding cbor: %w", err)
		}
		return nil
	}
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("decoding json: %w", err)
	}
	return nil
}
