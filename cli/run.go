package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"powledger/api"
	"powledger/logger"
	"powledger/metrics"
	"powledger/node"
	"powledger/p2p"
)

const (
	keyAddress              = "address"
	keyNodeID               = "node-id"
	keyDifficulty           = "difficulty"
	keyFetchTimeout         = "fetch-timeout"
	keyMaxConcurrentFetches = "max-concurrent-fetches"
	keySeeds                = "seeds"
	keyBootstrapTimeout     = "bootstrap-timeout"
	keyMDNS                 = "mdns"
	keyMaxBodySize          = "max-body-size"
	keyWriteTimeout         = "write-timeout"
	keyMineTimeout          = "mine-timeout"
)

type runConfiguration struct {
	Base *baseConfiguration

	Address      string
	Node         node.Config
	MDNS         bool
	MaxBodySize  int64
	WriteTimeout time.Duration
	// MineTimeout bounds the proof search of a mine request
	MineTimeout time.Duration
}

func newRunCmd(baseConfig *baseConfiguration) *cobra.Command {
	config := &runConfiguration{Base: baseConfig, Node: node.DefaultConfig()}
	var cmd = &cobra.Command{
		Use:   "run",
		Short: "Starts a ledger node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(cmd.Context(), config)
		},
	}

	cmd.Flags().StringVarP(&config.Address, keyAddress, "a", "localhost:5000", "address the node API listens on")
	cmd.Flags().StringVar(&config.Node.NodeID, keyNodeID, "", "node identifier, receives the mining rewards (default random)")
	cmd.Flags().IntVar(&config.Node.Difficulty, keyDifficulty, config.Node.Difficulty, "number of leading zero hex digits a proof must produce")
	cmd.Flags().DurationVar(&config.Node.FetchTimeout, keyFetchTimeout, config.Node.FetchTimeout, "how long to wait for a peer chain when resolving")
	cmd.Flags().IntVar(&config.Node.MaxConcurrentFetches, keyMaxConcurrentFetches, config.Node.MaxConcurrentFetches, "how many peers are queried at the same time")
	cmd.Flags().StringSliceVar(&config.Node.Seeds, keySeeds, nil, "peers to register and sync from on startup")
	cmd.Flags().DurationVar(&config.Node.BootstrapTimeout, keyBootstrapTimeout, config.Node.BootstrapTimeout, "how long to retry syncing from seeds on startup")
	cmd.Flags().BoolVar(&config.MDNS, keyMDNS, false, "announce the node and discover peers on the local network")
	cmd.Flags().Int64Var(&config.MaxBodySize, keyMaxBodySize, api.DefaultMaxBodySize, "maximum size of a request body in bytes")
	cmd.Flags().DurationVar(&config.WriteTimeout, keyWriteTimeout, 5*time.Minute, "maximum duration of writing a response, raised to fit the mine timeout")
	cmd.Flags().DurationVar(&config.MineTimeout, keyMineTimeout, api.DefaultMineTimeout, "maximum duration of the proof search of a mine request")
	return cmd
}

func runNode(ctx context.Context, config *runConfiguration) error {
	if config.Node.NodeID == "" {
		config.Node.NodeID = node.NewIdentifier()
	}
	log := logger.NodeID(config.Base.log, config.Node.NodeID)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}

	n, err := node.New(config.Node, p2p.NewClient(config.Node.FetchTimeout),
		node.WithLogger(logger.Module(config.Base.log, "node")),
		node.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("creating node: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		server := api.NewServer(api.Config{
			Addr:         config.Address,
			MaxBodySize:  config.MaxBodySize,
			WriteTimeout: config.WriteTimeout,
			MineTimeout:  config.MineTimeout,
		}, n, m, logger.Module(log, "api"))
		log.Info().Str("address", config.Address).Int("difficulty", config.Node.Difficulty).Msg("node API starting")
		return api.Run(ctx, server)
	})

	g.Go(func() error {
		// a node without reachable seeds still works on its own chain
		if err := n.Bootstrap(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Msg("bootstrap failed, continuing with local chain")
		}
		return nil
	})

	if config.MDNS {
		g.Go(func() error {
			port, err := listenPort(config.Address)
			if err != nil {
				return err
			}
			d, err := p2p.NewDiscovery(p2p.DiscoveryConfig{
				Instance: config.Node.NodeID,
				Port:     port,
				Registry: n,
				Log:      logger.Module(log, "discovery"),
			})
			if err != nil {
				return fmt.Errorf("creating mDNS discovery: %w", err)
			}
			if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	return g.Wait()
}

func listenPort(address string) (int, error) {
	_, port, err := net.SplitHostPort(address)
	if err != nil {
		return 0, fmt.Errorf("parsing listen address %q: %w", address, err)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 {
		return 0, fmt.Errorf("listen address %q has no usable port", address)
	}
	return p, nil
}
