package main

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"powledger/api"
	"powledger/blockchain"
	"powledger/node"
	"powledger/p2p"
)

func startNode(t *testing.T, id string) (*node.Node, string) {
	t.Helper()
	cfg := node.DefaultConfig()
	cfg.NodeID = id
	cfg.Difficulty = 2
	n, err := node.New(cfg, p2p.NewClient(2*time.Second))
	require.NoError(t, err)
	srv := httptest.NewServer(api.NewRouter(n, nil, zerolog.Nop()))
	t.Cleanup(srv.Close)
	return n, srv.URL
}

func TestBotRound(t *testing.T) {
	ctx := context.Background()
	a, addrA := startNode(t, "bot-a")
	b, addrB := startNode(t, "bot-b")

	require.NoError(t, NewBot("bot-a", addrA, zerolog.Nop()).Round(ctx))
	chain := a.Chain()
	require.Equal(t, 2, chain.Length)
	txs := chain.Chain[1].Transactions
	require.GreaterOrEqual(t, len(txs), 2)
	require.LessOrEqual(t, len(txs), 4)
	require.Equal(t, blockchain.RewardTransaction("bot-a"), txs[len(txs)-1])
	for _, tx := range txs[:len(txs)-1] {
		require.Equal(t, "bot-a", tx.Sender)
	}

	// b adopts the chain of a before mining on top of it
	_, err := b.RegisterPeers([]string{addrA})
	require.NoError(t, err)
	require.NoError(t, NewBot("bot-b", addrB, zerolog.Nop()).Round(ctx))
	require.Equal(t, 3, b.Chain().Length)
	require.Equal(t, chain.Chain, b.Chain().Chain[:2])
}

func TestBotRunStops(t *testing.T) {
	_, addr := startNode(t, "bot")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- NewBot("bot", addr, zerolog.Nop()).Run(ctx, time.Hour, 2*time.Hour) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("bot did not stop")
	}
}
