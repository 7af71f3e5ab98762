package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"powledger/blockchain"
	"powledger/mocks"
	"powledger/node"
	"powledger/p2p"
)

func testNode(t *testing.T) *node.Node {
	t.Helper()
	cfg := node.DefaultConfig()
	cfg.NodeID = "handler-test"
	cfg.Difficulty = 2
	n, err := node.New(cfg, mocks.NewStaticFetcher(nil))
	require.NoError(t, err)
	return n
}

// failingNode fails every operation which can fail.
type failingNode struct {
	*node.Node
	err error
}

func (f failingNode) Mine(ctx context.Context) (blockchain.Block, error) {
	return blockchain.Block{}, f.err
}

func (f failingNode) SubmitTransaction(sender, recipient string, amount float64) (uint64, error) {
	return 0, f.err
}

func (f failingNode) RegisterPeers(addresses []string) ([]string, error) {
	return nil, f.err
}

func (f failingNode) Resolve(ctx context.Context) (bool, []blockchain.Block, error) {
	return false, nil, f.err
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func TestHandleNewTransaction(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		expectedStatus int
		expectedInBody string
	}{
		{
			name:           "valid transaction",
			body:           `{"sender":"A","recipient":"B","amount":5}`,
			expectedStatus: http.StatusCreated,
			expectedInBody: "Transaction will be added to Block 2",
		},
		{
			name:           "zero amount is a value",
			body:           `{"sender":"A","recipient":"B","amount":0}`,
			expectedStatus: http.StatusCreated,
			expectedInBody: `"index":2`,
		},
		{
			name:           "missing amount",
			body:           `{"sender":"A","recipient":"B"}`,
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "missing values: amount",
		},
		{
			name:           "null sender",
			body:           `{"sender":null,"recipient":"B","amount":1}`,
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "missing values: sender",
		},
		{
			name:           "wrong type",
			body:           `{"sender":"A","recipient":"B","amount":"five"}`,
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "malformed request",
		},
		{
			name:           "not json",
			body:           `sender=A`,
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "malformed request",
		},
		{
			name:           "empty recipient",
			body:           `{"sender":"A","recipient":"","amount":1}`,
			expectedStatus: http.StatusBadRequest,
			expectedInBody: "recipient",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := testNode(t)
			req := httptest.NewRequest(http.MethodPost, p2p.NewTransactionPath, strings.NewReader(tt.body))
			req.Header.Set(p2p.ContentType, p2p.ApplicationJson)
			rec := httptest.NewRecorder()

			HandleNewTransaction(rec, req, n)

			require.Equal(t, tt.expectedStatus, rec.Code, rec.Body.String())
			require.Contains(t, rec.Body.String(), tt.expectedInBody)
			if tt.expectedStatus != http.StatusCreated {
				require.Empty(t, n.PendingTransactions())
			}
		})
	}
}

func TestHandleNewTransaction_InternalError(t *testing.T) {
	svc := failingNode{Node: testNode(t), err: errors.New("disk on fire")}
	req := httptest.NewRequest(http.MethodPost, p2p.NewTransactionPath, strings.NewReader(`{"sender":"A","recipient":"B","amount":1}`))
	rec := httptest.NewRecorder()
	HandleNewTransaction(rec, req, svc)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleMine(t *testing.T) {
	n := testNode(t)
	_, err := n.SubmitTransaction("A", "B", 5)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	HandleMine(rec, httptest.NewRequest(http.MethodGet, p2p.MinePath, nil), n)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp p2p.MineResponse
	decodeBody(t, rec, &resp)
	require.Equal(t, p2p.MessageBlockForged, resp.Message)
	require.EqualValues(t, 2, resp.Index)
	require.Equal(t, []blockchain.Transaction{
		{Sender: "A", Recipient: "B", Amount: 5},
		{Sender: "0", Recipient: "handler-test", Amount: 1},
	}, resp.Transactions)
	genesis := n.Chain().Chain[0]
	require.Equal(t, blockchain.HashBlock(&genesis), resp.PreviousHash)
}

func TestHandleMine_Errors(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleMine(rec, httptest.NewRequest(http.MethodGet, p2p.MinePath, nil), failingNode{Node: testNode(t), err: errors.New("broken")})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var er p2p.ErrorResponse
	decodeBody(t, rec, &er)
	require.Equal(t, "broken", er.Message)

	rec = httptest.NewRecorder()
	HandleMine(rec, httptest.NewRequest(http.MethodGet, p2p.MinePath, nil), failingNode{Node: testNode(t), err: context.Canceled})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleChain(t *testing.T) {
	n := testNode(t)
	_, err := n.Mine(context.Background())
	require.NoError(t, err)

	t.Run("json", func(t *testing.T) {
		rec := httptest.NewRecorder()
		HandleChain(rec, httptest.NewRequest(http.MethodGet, p2p.ChainPath, nil), n)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, p2p.ApplicationJson, rec.Header().Get(p2p.ContentType))
		var resp p2p.ChainResponse
		decodeBody(t, rec, &resp)
		require.Equal(t, 2, resp.Length)
		require.Equal(t, n.Chain().Chain, resp.Chain)
	})

	t.Run("cbor", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, p2p.ChainPath, nil)
		req.Header.Set(p2p.Accept, p2p.ApplicationCbor)
		rec := httptest.NewRecorder()
		HandleChain(rec, req, n)
		require.Equal(t, p2p.ApplicationCbor, rec.Header().Get(p2p.ContentType))
		var resp p2p.ChainResponse
		require.NoError(t, cbor.NewDecoder(rec.Body).Decode(&resp))
		require.Equal(t, n.Chain().Chain, resp.Chain)
	})
}

func TestHandleRegisterNodes(t *testing.T) {
	n := testNode(t)

	post := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		HandleRegisterNodes(rec, httptest.NewRequest(http.MethodPost, p2p.RegisterNodesPath, bytes.NewBufferString(body)), n)
		return rec
	}

	rec := post(`{"nodes":["http://192.168.0.5:5000","localhost:5001"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp p2p.RegisterNodesResponse
	decodeBody(t, rec, &resp)
	require.Equal(t, p2p.MessageNodesAdded, resp.Message)
	require.Equal(t, []string{"192.168.0.5:5000", "localhost:5001"}, resp.TotalNodes)

	for _, body := range []string{`{}`, `{"nodes":null}`, `{"nodes":[]}`, `{"nodes":["localhost"]}`, `{"nodes":"localhost:1"}`} {
		rec := post(body)
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	require.Len(t, n.Peers(), 2)

	rec = httptest.NewRecorder()
	HandleRegisterNodes(rec, httptest.NewRequest(http.MethodPost, p2p.RegisterNodesPath, strings.NewReader(`{"nodes":["a:1"]}`)), failingNode{Node: n, err: errors.New("oops")})
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	HandleNodes(rec, httptest.NewRequest(http.MethodGet, p2p.NodesPath, nil), n)
	var nodes p2p.NodesResponse
	decodeBody(t, rec, &nodes)
	require.Equal(t, []string{"192.168.0.5:5000", "localhost:5001"}, nodes.Nodes)
}

func TestHandleResolve(t *testing.T) {
	n := testNode(t)
	rec := httptest.NewRecorder()
	HandleResolve(rec, httptest.NewRequest(http.MethodGet, p2p.ResolvePath, nil), n)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp p2p.ResolveResponse
	decodeBody(t, rec, &resp)
	require.Equal(t, p2p.MessageChainKept, resp.Message)
	require.False(t, resp.Replaced)
	require.Len(t, resp.NewChain, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	rec = httptest.NewRecorder()
	HandleResolve(rec, httptest.NewRequest(http.MethodGet, p2p.ResolvePath, nil).WithContext(ctx), failingNode{Node: n, err: ctx.Err()})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
