package consensus

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"powledger/blockchain"
	"powledger/blockchain/store"
	"powledger/metrics"
	"powledger/mocks"
)

var start = time.Unix(1533600000, 0)

func testPoW(t *testing.T) *blockchain.ProofOfWork {
	t.Helper()
	pow, err := blockchain.NewProofOfWork(2)
	require.NoError(t, err)
	return pow
}

func localStore(t *testing.T, pow *blockchain.ProofOfWork, n int) *store.MemoryChainStore {
	t.Helper()
	s := store.NewMemoryChainStore()
	if n > 1 {
		require.NoError(t, s.ReplaceChain(mocks.MineChain(pow, n, "local", start)))
	}
	return s
}

func newResolver(t *testing.T, f ChainFetcher, pow *blockchain.ProofOfWork, opts ...Option) *Resolver {
	t.Helper()
	r, err := NewResolver(f, pow, opts...)
	require.NoError(t, err)
	return r
}

func TestNewResolver(t *testing.T) {
	_, err := NewResolver(nil, testPoW(t))
	require.EqualError(t, err, "chain fetcher is nil")
	_, err = NewResolver(mocks.NewStaticFetcher(nil), nil)
	require.EqualError(t, err, "proof of work is nil")

	r, err := NewResolver(mocks.NewStaticFetcher(nil), testPoW(t), WithFetchTimeout(-1), WithMaxConcurrentFetches(0))
	require.NoError(t, err)
	require.Equal(t, DefaultFetchTimeout, r.fetchTimeout)
	require.Equal(t, DefaultMaxConcurrentFetches, r.maxFetches)
}

func TestResolve_LongestValidChainWins(t *testing.T) {
	pow := testPoW(t)
	longest := mocks.MineChain(pow, 4, "a", start)
	fetcher := mocks.NewStaticFetcher(map[string]mocks.PeerChain{
		"a:5000": {Chain: longest},
		"b:5000": {Chain: mocks.MineChain(pow, 2, "b", start)},
		"c:5000": {Err: errors.New("connection refused")},
	})
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)
	local := localStore(t, pow, 1)

	out, err := newResolver(t, fetcher, pow, WithMetrics(m)).Resolve(context.Background(), []string{"c:5000", "b:5000", "a:5000", "d:5000"}, local)
	require.NoError(t, err)
	require.Equal(t, Outcome{Replaced: true, Length: 4, Source: "a:5000", Reached: 2, Failed: 2}, out)
	require.Equal(t, longest, local.Chain())
	require.ElementsMatch(t, []string{"a:5000", "b:5000", "c:5000", "d:5000"}, fetcher.Fetched())
}

func TestResolve_LocalWinsTies(t *testing.T) {
	pow := testPoW(t)
	local := localStore(t, pow, 5)
	before := local.Chain()

	fetcher := mocks.NewStaticFetcher(map[string]mocks.PeerChain{
		"peer:1": {Chain: mocks.MineChain(pow, 5, "peer", start.Add(time.Hour))},
	})
	r := newResolver(t, fetcher, pow)

	out, err := r.Resolve(context.Background(), []string{"peer:1"}, local)
	require.NoError(t, err)
	require.False(t, out.Replaced)
	require.Equal(t, 5, out.Length)
	require.Empty(t, out.Source)
	require.Equal(t, before, local.Chain())

	// one block more and the peer wins
	longer := mocks.MineChain(pow, 6, "peer", start.Add(time.Hour))
	fetcher = mocks.NewStaticFetcher(map[string]mocks.PeerChain{"peer:1": {Chain: longer}})
	out, err = newResolver(t, fetcher, pow).Resolve(context.Background(), []string{"peer:1"}, local)
	require.NoError(t, err)
	require.True(t, out.Replaced)
	require.Equal(t, 6, out.Length)
	require.Equal(t, longer, local.Chain())
}

func TestResolve_TieBetweenPeersGoesToLowestAddress(t *testing.T) {
	pow := testPoW(t)
	chain1 := mocks.MineChain(pow, 3, "one", start)
	chain2 := mocks.MineChain(pow, 3, "two", start)
	require.NotEqual(t, chain1, chain2)

	fetcher := mocks.NewStaticFetcher(map[string]mocks.PeerChain{
		"10.0.0.2:5000": {Chain: chain2},
		"10.0.0.1:5000": {Chain: chain1},
	})
	for i := 0; i < 5; i++ {
		local := localStore(t, pow, 1)
		out, err := newResolver(t, fetcher, pow).Resolve(context.Background(), []string{"10.0.0.2:5000", "10.0.0.1:5000"}, local)
		require.NoError(t, err)
		require.Equal(t, "10.0.0.1:5000", out.Source)
		require.Equal(t, chain1, local.Chain())
	}
}

func TestResolve_SkipsMalformedAndInvalidChains(t *testing.T) {
	pow := testPoW(t)

	tampered := mocks.MineChain(pow, 6, "evil", start)
	for pow.ValidProof(tampered[4].Proof, tampered[5].Proof) {
		tampered[5].Proof++
	}
	weakPoW, err := blockchain.NewProofOfWork(1)
	require.NoError(t, err)
	weak := mocks.MineChain(weakPoW, 7, "weak", start)
	require.Error(t, blockchain.ValidateChain(weak, pow), "test setup: chain must fail at difficulty 2")

	honest := mocks.MineChain(pow, 3, "honest", start)
	fetcher := mocks.NewStaticFetcher(map[string]mocks.PeerChain{
		"liar:1":     {Chain: mocks.MineChain(pow, 3, "liar", start), Length: 10},
		"tampered:1": {Chain: tampered},
		"weak:1":     {Chain: weak},
		"honest:1":   {Chain: honest},
	})
	local := localStore(t, pow, 1)

	out, err := newResolver(t, fetcher, pow).Resolve(context.Background(), []string{"liar:1", "tampered:1", "weak:1", "honest:1"}, local)
	require.NoError(t, err)
	require.Equal(t, Outcome{Replaced: true, Length: 3, Source: "honest:1", Reached: 1, Failed: 3}, out)
	require.Equal(t, honest, local.Chain())
}

func TestResolve_DeclaredLengthMismatch(t *testing.T) {
	pow := testPoW(t)
	fetcher := mocks.NewStaticFetcher(map[string]mocks.PeerChain{
		"liar:1": {Chain: mocks.MineChain(pow, 3, "liar", start), Length: 10},
	})
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	logBuf := &bytes.Buffer{}
	local := localStore(t, pow, 1)

	r := newResolver(t, fetcher, pow, WithMetrics(m), WithLogger(zerolog.New(logBuf)))
	out, err := r.Resolve(context.Background(), []string{"liar:1"}, local)
	require.NoError(t, err)
	require.Equal(t, Outcome{Length: 1, Failed: 1}, out)
	require.Contains(t, logBuf.String(), "declared length 10 does not match 3 blocks")

	n, err := testutil.GatherAndCount(reg, "powledger_consensus_peer_failures_total")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestResolve_SlowPeerTimesOut(t *testing.T) {
	pow := testPoW(t)
	fast := mocks.MineChain(pow, 2, "fast", start)
	fetcher := mocks.NewStaticFetcher(map[string]mocks.PeerChain{
		"slow:1": {Chain: mocks.MineChain(pow, 8, "slow", start), Delay: 5 * time.Second},
		"fast:1": {Chain: fast},
	})
	local := localStore(t, pow, 1)

	began := time.Now()
	out, err := newResolver(t, fetcher, pow, WithFetchTimeout(50*time.Millisecond)).Resolve(context.Background(), []string{"slow:1", "fast:1"}, local)
	require.NoError(t, err)
	require.Less(t, time.Since(began), 2*time.Second)
	require.Equal(t, "fast:1", out.Source)
	require.Equal(t, 1, out.Failed)
	require.Equal(t, fast, local.Chain())
}

func TestResolve_NoPeers(t *testing.T) {
	pow := testPoW(t)
	local := localStore(t, pow, 3)
	out, err := newResolver(t, mocks.NewStaticFetcher(nil), pow).Resolve(context.Background(), nil, local)
	require.NoError(t, err)
	require.Equal(t, Outcome{Length: 3}, out)
}

func TestResolve_Cancelled(t *testing.T) {
	pow := testPoW(t)
	fetcher := mocks.NewStaticFetcher(map[string]mocks.PeerChain{
		"slow:1": {Chain: mocks.MineChain(pow, 3, "slow", start), Delay: time.Minute},
	})
	local := localStore(t, pow, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	out, err := newResolver(t, fetcher, pow).Resolve(ctx, []string{"slow:1"}, local)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, out.Replaced)
	require.Equal(t, 1, local.Length())
}

type growingStore struct {
	*store.MemoryChainStore
	grow []blockchain.Block
}

// Length reports the chain as it was when resolution started, then the local node
// mines past the candidate before it is committed.
func (g *growingStore) Length() int {
	n := g.MemoryChainStore.Length()
	if g.grow != nil {
		if err := g.MemoryChainStore.ReplaceChain(g.grow); err != nil {
			panic(err)
		}
		g.grow = nil
	}
	return n
}

func TestResolve_LocalGrewDuringResolution(t *testing.T) {
	pow := testPoW(t)
	local := &growingStore{MemoryChainStore: localStore(t, pow, 1), grow: mocks.MineChain(pow, 5, "local", start)}
	fetcher := mocks.NewStaticFetcher(map[string]mocks.PeerChain{
		"peer:1": {Chain: mocks.MineChain(pow, 3, "peer", start)},
	})

	out, err := newResolver(t, fetcher, pow).Resolve(context.Background(), []string{"peer:1"}, local)
	require.NoError(t, err)
	require.False(t, out.Replaced)
	require.Equal(t, 5, out.Length)
}
