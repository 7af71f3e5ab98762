package p2p

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"powledger/blockchain"
)

const (
	defaultScheme        = "http://"
	defaultClientTimeout = 10 * time.Second
	// chains are returned whole, the limit only guards against a runaway peer
	maxResponseSize = 64 << 20
)

// ErrPeerResponse is returned when a peer answers with a non-success status code.
var ErrPeerResponse = errors.New("unexpected response from peer")

// Client talks to the HTTP API of a node. A single client can be used with any number of
// peers, the peer address is given per call.
type Client struct {
	HttpClient http.Client
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}
	return &Client{HttpClient: http.Client{Timeout: timeout}}
}

// FetchChain downloads the chain of the peer and returns it together with the length the
// peer declared.
func (c *Client) FetchChain(ctx context.Context, peer string) ([]blockchain.Block, int, error) {
	var resp ChainResponse
	if err := c.do(ctx, http.MethodGet, peer, ChainPath, nil, &resp); err != nil {
		return nil, 0, err
	}
	return resp.Chain, resp.Length, nil
}

func (c *Client) Mine(ctx context.Context, peer string) (*MineResponse, error) {
	var resp MineResponse
	if err := c.do(ctx, http.MethodGet, peer, MinePath, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) SubmitTransaction(ctx context.Context, peer string, req *TransactionRequest) (*TransactionResponse, error) {
	var resp TransactionResponse
	if err := c.do(ctx, http.MethodPost, peer, NewTransactionPath, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) RegisterNodes(ctx context.Context, peer string, nodes []string) (*RegisterNodesResponse, error) {
	var resp RegisterNodesResponse
	if err := c.do(ctx, http.MethodPost, peer, RegisterNodesPath, &RegisterNodesRequest{Nodes: nodes}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Nodes(ctx context.Context, peer string) ([]string, error) {
	var resp NodesResponse
	if err := c.do(ctx, http.MethodGet, peer, NodesPath, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Nodes, nil
}

func (c *Client) Resolve(ctx context.Context, peer string) (*ResolveResponse, error) {
	var resp ResolveResponse
	if err := c.do(ctx, http.MethodGet, peer, ResolvePath, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, peer, path string, body, out any) error {
	u, err := PeerURL(peer, path)
	if err != nil {
		return err
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", path, err)
	}
	if body != nil {
		req.Header.Set(ContentType, ApplicationJson)
	}
	req.Header.Set(Accept, ApplicationCbor+", "+ApplicationJson+";q=0.9")

	rsp, err := c.HttpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s failed: %w", path, err)
	}
	defer rsp.Body.Close()

	if rsp.StatusCode < 200 || rsp.StatusCode > 299 {
		var er ErrorResponse
		if err := Decode(io.LimitReader(rsp.Body, 4096), rsp.Header.Get(ContentType), &er); err == nil && er.Message != "" {
			return fmt.Errorf("%w: %s: %s", ErrPeerResponse, rsp.Status, er.Message)
		}
		return fmt.Errorf("%w: %s", ErrPeerResponse, rsp.Status)
	}
	if err := Decode(io.LimitReader(rsp.Body, maxResponseSize), rsp.Header.Get(ContentType), out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// PeerURL builds the URL of the API endpoint of the peer. The peer may be given with or
// without scheme.
func PeerURL(peer, path string) (*url.URL, error) {
	if !strings.HasPrefix(peer, "http://") && !strings.HasPrefix(peer, "https://") {
		peer = defaultScheme + peer
	}
	u, err := url.Parse(peer)
	if err != nil {
		return nil, fmt.Errorf("error parsing peer URL (%s): %w", peer, err)
	}
	return u.JoinPath(path), nil
}
