package p2p

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	ma "github.com/multiformats/go-multiaddr"
)

var ErrInvalidAddress = errors.New("invalid peer address")

// PeerRegistry is the set of peers this node reconciles with. Addresses are stored in the
// canonical "host:port" form so the same peer given as URL, host:port or multiaddr is
// registered once.
type PeerRegistry struct {
	mu    sync.RWMutex
	peers map[string]struct{}
}

func NewPeerRegistry() *PeerRegistry {
	return &PeerRegistry{peers: make(map[string]struct{})}
}

// Register adds the peer to the set. Registering a known peer is a no-op. The address is not
// checked for reachability.
func (r *PeerRegistry) Register(address string) (string, error) {
	peer, err := ParseAddress(address)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[peer] = struct{}{}
	return peer, nil
}

// RegisterAll validates every address before inserting any of them.
func (r *PeerRegistry) RegisterAll(addresses []string) ([]string, error) {
	parsed := make([]string, 0, len(addresses))
	for _, a := range addresses {
		peer, err := ParseAddress(a)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, peer)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range parsed {
		r.peers[p] = struct{}{}
	}
	return parsed, nil
}

func (r *PeerRegistry) Remove(address string) bool {
	peer, err := ParseAddress(address)
	if err != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.peers[peer]
	delete(r.peers, peer)
	return ok
}

func (r *PeerRegistry) Contains(address string) bool {
	peer, err := ParseAddress(address)
	if err != nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.peers[peer]
	return ok
}

// Peers returns the registered peers in ascending order.
func (r *PeerRegistry) Peers() []string {
	r.mu.RLock()
	peers := make([]string, 0, len(r.peers))
	for p := range r.peers {
		peers = append(peers, p)
	}
	r.mu.RUnlock()
	sort.Strings(peers)
	return peers
}

func (r *PeerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

/*
ParseAddress converts a peer address into canonical "host:port" form. Accepted are

  - URLs with http or https scheme, path is ignored: "http://192.168.0.5:5000/";
  - bare "host:port" pairs: "localhost:5001";
  - multiaddrs with ip4, ip6, dns, dns4 or dns6 host and tcp port: "/ip4/10.0.0.1/tcp/5000".

Host names are lower cased. A missing or out of range port is an error.
*/
func ParseAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	switch {
	case address == "":
		return "", fmt.Errorf("%w: empty address", ErrInvalidAddress)
	case strings.HasPrefix(address, "/"):
		return parseMultiaddr(address)
	case strings.Contains(address, "://"):
		u, err := url.Parse(address)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidAddress, u.Scheme)
		}
		return joinHostPort(u.Hostname(), u.Port())
	default:
		host, port, err := net.SplitHostPort(address)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
		}
		return joinHostPort(host, port)
	}
}

func parseMultiaddr(address string) (string, error) {
	addr, err := ma.NewMultiaddr(address)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	var host string
	for _, code := range []int{ma.P_IP4, ma.P_IP6, ma.P_DNS, ma.P_DNS4, ma.P_DNS6} {
		if v, err := addr.ValueForProtocol(code); err == nil {
			host = v
			break
		}
	}
	port, err := addr.ValueForProtocol(ma.P_TCP)
	if err != nil {
		return "", fmt.Errorf("%w: multiaddr %s has no tcp port", ErrInvalidAddress, address)
	}
	return joinHostPort(host, port)
}

func joinHostPort(host, port string) (string, error) {
	if host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidAddress)
	}
	if port == "" {
		return "", fmt.Errorf("%w: missing port", ErrInvalidAddress)
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil || p == 0 {
		return "", fmt.Errorf("%w: invalid port %q", ErrInvalidAddress, port)
	}
	return net.JoinHostPort(strings.ToLower(host), strconv.FormatUint(p, 10)), nil
}
