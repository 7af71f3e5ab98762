package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
)

var errNoPeerReached = errors.New("no peer answered")

// Bootstrap registers the configured seed peers and resolves against them, retrying with
// exponential backoff until at least one peer has answered or BootstrapTimeout has passed.
// Nodes without seeds have nothing to do.
func (n *Node) Bootstrap(ctx context.Context) error {
	if len(n.config.Seeds) == 0 {
		return nil
	}
	if _, err := n.RegisterPeers(n.config.Seeds); err != nil {
		return fmt.Errorf("registering seed peers: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = n.config.BootstrapTimeout

	op := func() error {
		out, err := n.resolve(ctx)
		if err != nil {
			return err
		}
		if out.Reached == 0 {
			return errNoPeerReached
		}
		return nil
	}
	notify := func(err error, next time.Duration) {
		n.log.Debug().Err(err).Dur("retry_in", next).Msg("bootstrap resolution failed")
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return fmt.Errorf("bootstrapping from %d seed(s): %w", len(n.config.Seeds), err)
	}
	n.log.Info().Int("length", n.store.Length()).Msg("bootstrap done")
	return nil
}
