package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"powledger/api"
	"powledger/logger"
	"powledger/node"
	"powledger/p2p"
)

// Starts a small local network where every node is driven by a bot submitting
// transactions, mining and resolving conflicts at random intervals.
func main() {
	numBots := pflag.Int("bots", 6, "number of bots besides the seed node")
	basePort := pflag.Int("base-port", 19000, "port of the seed node, bots use the following ports")
	difficulty := pflag.Int("difficulty", 4, "proof of work difficulty")
	minInterval := pflag.Duration("min-interval", 10*time.Second, "minimum pause between bot rounds")
	maxInterval := pflag.Duration("max-interval", 2*time.Minute, "maximum pause between bot rounds")
	logLevel := pflag.String("log-level", "info", "log level")
	pflag.Parse()

	log, err := logger.New(logger.Config{Level: *logLevel, Format: logger.FormatConsole})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	seedAddr := fmt.Sprintf("localhost:%d", *basePort)
	var seed *node.Node
	var botAddrs []string
	var bots []*Bot
	for i := 0; i <= *numBots; i++ {
		name := "seedNode"
		if i > 0 {
			name = fmt.Sprintf("bot-%d", i)
		}
		addr := fmt.Sprintf("localhost:%d", *basePort+i)

		cfg := node.DefaultConfig()
		cfg.NodeID = name
		cfg.Difficulty = *difficulty
		n, err := node.New(cfg, p2p.NewClient(cfg.FetchTimeout), node.WithLogger(logger.Module(log, "node")))
		if err != nil {
			log.Error().Err(err).Msg("creating node")
			os.Exit(1)
		}
		if i == 0 {
			seed = n
		} else {
			if _, err := n.RegisterPeers([]string{seedAddr}); err != nil {
				log.Error().Err(err).Msg("registering seed")
				os.Exit(1)
			}
			botAddrs = append(botAddrs, addr)
		}

		server := api.NewServer(api.Config{Addr: addr}, n, nil, logger.Module(log, "api"))
		g.Go(func() error { return api.Run(ctx, server) })

		bots = append(bots, NewBot(name, addr, logger.NodeID(log, name)))
	}

	if len(botAddrs) > 0 {
		if _, err := seed.RegisterPeers(botAddrs); err != nil {
			log.Error().Err(err).Msg("registering bots with the seed node")
			os.Exit(1)
		}
	}

	for _, b := range bots {
		b := b
		g.Go(func() error { return b.Run(ctx, *minInterval, *maxInterval) })
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("bot network stopped")
		os.Exit(1)
	}
}
