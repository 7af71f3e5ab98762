package p2p

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog"

	"powledger/logger"
)

const (
	ServiceName   = "_powledger._tcp"
	ServiceDomain = "local."
)

// Registrar stores discovered peers, the node implements it.
type Registrar interface {
	RegisterPeer(address string) (string, error)
}

type DiscoveryConfig struct {
	// Instance is the mDNS instance name of this node, usually the node identifier.
	Instance string
	// Port the node API listens on.
	Port int
	// Registry receives the addresses of discovered peers.
	Registry Registrar
	Log      zerolog.Logger
}

// Discovery announces the node on the local network over mDNS and registers the other
// nodes it sees. It is a convenience for LAN setups, peers can always be registered
// explicitly.
type Discovery struct {
	config DiscoveryConfig
}

func NewDiscovery(config DiscoveryConfig) (*Discovery, error) {
	if config.Instance == "" {
		return nil, fmt.Errorf("discovery instance name is required")
	}
	if config.Port <= 0 || config.Port > 65535 {
		return nil, fmt.Errorf("invalid discovery port %d", config.Port)
	}
	if config.Registry == nil {
		return nil, fmt.Errorf("peer registry is required")
	}
	return &Discovery{config: config}, nil
}

// Run announces the node and browses for peers until ctx is cancelled.
func (d *Discovery) Run(ctx context.Context) error {
	server, err := zeroconf.Register(d.config.Instance, ServiceName, ServiceDomain, d.config.Port, []string{"id=" + d.config.Instance}, nil)
	if err != nil {
		return fmt.Errorf("announcing node over mDNS: %w", err)
	}
	defer server.Shutdown()

	resolver, err := zeroconf.NewResolver()
	if err != nil {
		return fmt.Errorf("creating mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, ServiceName, ServiceDomain, entries); err != nil {
		return fmt.Errorf("browsing for peers: %w", err)
	}
	d.config.Log.Info().Int("port", d.config.Port).Msg("mDNS discovery started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry, ok := <-entries:
			if !ok {
				<-ctx.Done()
				return ctx.Err()
			}
			d.handleEntry(entry)
		}
	}
}

func (d *Discovery) handleEntry(entry *zeroconf.ServiceEntry) {
	if entry == nil || entry.Instance == d.config.Instance {
		return
	}
	addr, ok := entryAddress(entry)
	if !ok {
		d.config.Log.Debug().Str("instance", entry.Instance).Msg("discovered node has no usable address")
		return
	}
	peer, err := d.config.Registry.RegisterPeer(addr)
	if err != nil {
		d.config.Log.Warn().Err(err).Str(logger.PeerKey, addr).Msg("registering discovered peer")
		return
	}
	d.config.Log.Debug().Str(logger.PeerKey, peer).Str("instance", entry.Instance).Msg("discovered peer")
}

func entryAddress(entry *zeroconf.ServiceEntry) (string, bool) {
	if entry.Port <= 0 {
		return "", false
	}
	port := strconv.Itoa(entry.Port)
	if len(entry.AddrIPv4) > 0 {
		return net.JoinHostPort(entry.AddrIPv4[0].String(), port), true
	}
	if len(entry.AddrIPv6) > 0 {
		return net.JoinHostPort(entry.AddrIPv6[0].String(), port), true
	}
	return "", false
}
