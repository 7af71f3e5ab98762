package p2p

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr string
	}{
		{in: "http://192.168.0.5:5000", want: "192.168.0.5:5000"},
		{in: "http://192.168.0.5:5000/", want: "192.168.0.5:5000"},
		{in: "https://Node.Example.com:443/api", want: "node.example.com:443"},
		{in: "localhost:5001", want: "localhost:5001"},
		{in: " 127.0.0.1:05000 ", want: "127.0.0.1:5000"},
		{in: "http://[::1]:5000", want: "[::1]:5000"},
		{in: "/ip4/10.0.0.1/tcp/5000", want: "10.0.0.1:5000"},
		{in: "/ip6/::1/tcp/5000", want: "[::1]:5000"},
		{in: "/dns4/peer.local/tcp/7000", want: "peer.local:7000"},
		{in: "", wantErr: "empty address"},
		{in: "http://192.168.0.5", wantErr: "missing port"},
		{in: "ftp://192.168.0.5:21", wantErr: `unsupported scheme "ftp"`},
		{in: "192.168.0.5", wantErr: "missing port in address"},
		{in: "localhost:70000", wantErr: `invalid port "70000"`},
		{in: "localhost:0", wantErr: `invalid port "0"`},
		{in: "/ip4/10.0.0.1/udp/5000", wantErr: "has no tcp port"},
		{in: "/ip4/not-an-ip/tcp/5000", wantErr: "invalid peer address"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAddress(tt.in)
			if tt.wantErr != "" {
				require.ErrorIs(t, err, ErrInvalidAddress)
				require.ErrorContains(t, err, tt.wantErr)
				require.Empty(t, got)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestPeerRegistry_Register(t *testing.T) {
	r := NewPeerRegistry()
	require.Zero(t, r.Len())

	peer, err := r.Register("http://127.0.0.1:5001")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:5001", peer)

	// same peer in other notations
	for _, a := range []string{"127.0.0.1:5001", "/ip4/127.0.0.1/tcp/5001", "http://127.0.0.1:5001/chain"} {
		_, err := r.Register(a)
		require.NoError(t, err)
	}
	require.Equal(t, 1, r.Len())
	require.True(t, r.Contains("http://127.0.0.1:5001"))

	_, err = r.Register("not a peer")
	require.ErrorIs(t, err, ErrInvalidAddress)
	require.Equal(t, 1, r.Len())
}

func TestPeerRegistry_RegisterAll(t *testing.T) {
	r := NewPeerRegistry()
	_, err := r.RegisterAll([]string{"localhost:5001", "localhost"})
	require.ErrorIs(t, err, ErrInvalidAddress)
	require.Zero(t, r.Len(), "nothing is registered when one address is invalid")

	added, err := r.RegisterAll([]string{"localhost:5002", "http://localhost:5001"})
	require.NoError(t, err)
	require.Equal(t, []string{"localhost:5002", "localhost:5001"}, added)
	require.Equal(t, []string{"localhost:5001", "localhost:5002"}, r.Peers())
}

func TestPeerRegistry_Remove(t *testing.T) {
	r := NewPeerRegistry()
	_, err := r.Register("localhost:5001")
	require.NoError(t, err)

	require.False(t, r.Remove("localhost:5002"))
	require.False(t, r.Remove("bogus"))
	require.True(t, r.Remove("http://localhost:5001"))
	require.Empty(t, r.Peers())
}

func TestPeerRegistry_Concurrent(t *testing.T) {
	r := NewPeerRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := r.Register(fmt.Sprintf("10.0.0.%d:%d", i, 5000+j%10)); err != nil {
					t.Error(err)
				}
				_ = r.Peers()
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 160, r.Len())
}
