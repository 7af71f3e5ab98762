package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"powledger/p2p"
)

var recipients = []string{"alice", "bob", "carol", "dave", "erin"}

// Bot drives one node through its HTTP API like a busy user would.
type Bot struct {
	name   string
	addr   string
	client *p2p.Client
	log    zerolog.Logger
	rnd    *rand.Rand
}

func NewBot(name, addr string, log zerolog.Logger) *Bot {
	return &Bot{
		name:   name,
		addr:   addr,
		client: p2p.NewClient(5 * time.Minute),
		log:    log,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Round catches up with the peers, submits up to three transactions and mines a block
// holding them.
func (b *Bot) Round(ctx context.Context) error {
	res, err := b.client.Resolve(ctx, b.addr)
	if err != nil {
		return fmt.Errorf("resolving: %w", err)
	}
	if res.Replaced {
		b.log.Info().Int("length", len(res.NewChain)).Msg("adopted a longer chain")
	}

	n := b.rnd.Intn(3) + 1
	for i := 0; i < n; i++ {
		tx := p2p.NewTransactionRequest(b.name, recipients[b.rnd.Intn(len(recipients))], float64(b.rnd.Intn(1000))/100)
		if _, err := b.client.SubmitTransaction(ctx, b.addr, tx); err != nil {
			return fmt.Errorf("submitting transaction: %w", err)
		}
	}

	mined, err := b.client.Mine(ctx, b.addr)
	if err != nil {
		return fmt.Errorf("mining: %w", err)
	}
	b.log.Info().Uint64("index", mined.Index).Int("transactions", len(mined.Transactions)).Msg("mined block")
	return nil
}

// Run plays rounds at random intervals between minWait and maxWait until ctx is cancelled.
// Failed rounds are logged, the bot keeps going.
func (b *Bot) Run(ctx context.Context, minWait, maxWait time.Duration) error {
	for {
		wait := minWait
		if maxWait > minWait {
			wait += time.Duration(b.rnd.Int63n(int64(maxWait - minWait)))
		}
		b.log.Debug().Stringer("wait", wait).Msg("next round scheduled")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}

		if err := b.Round(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			b.log.Warn().Err(err).Msg("bot round failed")
		}
	}
}
