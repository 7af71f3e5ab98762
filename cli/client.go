package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"powledger/p2p"
)

const (
	keyNode      = "node"
	keyTimeout   = "timeout"
	keySender    = "sender"
	keyRecipient = "recipient"
	keyAmount    = "amount"
)

type clientConfiguration struct {
	Node    string
	Timeout time.Duration
}

func (c *clientConfiguration) client() *p2p.Client {
	return p2p.NewClient(c.Timeout)
}

func newClientCmd() *cobra.Command {
	config := &clientConfiguration{}
	var cmd = &cobra.Command{
		Use:   "client",
		Short: "Sends requests to a running node",
	}
	cmd.PersistentFlags().StringVarP(&config.Node, keyNode, "n", "localhost:5000", "address of the node")
	cmd.PersistentFlags().DurationVar(&config.Timeout, keyTimeout, 5*time.Minute, "request timeout, mining may take a while")

	cmd.AddCommand(
		newClientChainCmd(config),
		newClientMineCmd(config),
		newClientTxCmd(config),
		newClientRegisterCmd(config),
		newClientNodesCmd(config),
		newClientResolveCmd(config),
	)
	return cmd
}

func newClientChainCmd(config *clientConfiguration) *cobra.Command {
	return &cobra.Command{
		Use:   "chain",
		Short: "Prints the full chain of the node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			chain, length, err := config.client().FetchChain(cmd.Context(), config.Node)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p2p.ChainResponse{Chain: chain, Length: length})
		},
	}
}

func newClientMineCmd(config *clientConfiguration) *cobra.Command {
	return &cobra.Command{
		Use:   "mine",
		Short: "Asks the node to forge a new block",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientCall(cmd, func(ctx context.Context) (any, error) {
				return config.client().Mine(ctx, config.Node)
			})
		},
	}
}

func newClientTxCmd(config *clientConfiguration) *cobra.Command {
	var sender, recipient string
	var amount float64
	var cmd = &cobra.Command{
		Use:   "tx",
		Short: "Submits a transaction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientCall(cmd, func(ctx context.Context) (any, error) {
				return config.client().SubmitTransaction(ctx, config.Node, p2p.NewTransactionRequest(sender, recipient, amount))
			})
		},
	}
	cmd.Flags().StringVar(&sender, keySender, "", "sender of the amount")
	cmd.Flags().StringVar(&recipient, keyRecipient, "", "recipient of the amount")
	cmd.Flags().Float64Var(&amount, keyAmount, 0, "amount to transfer")
	for _, f := range []string{keySender, keyRecipient, keyAmount} {
		if err := cmd.MarkFlagRequired(f); err != nil {
			panic(err)
		}
	}
	return cmd
}

func newClientRegisterCmd(config *clientConfiguration) *cobra.Command {
	return &cobra.Command{
		Use:   "register address...",
		Short: "Registers peers with the node",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientCall(cmd, func(ctx context.Context) (any, error) {
				return config.client().RegisterNodes(ctx, config.Node, args)
			})
		},
	}
}

func newClientNodesCmd(config *clientConfiguration) *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "Lists the peers of the node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientCall(cmd, func(ctx context.Context) (any, error) {
				nodes, err := config.client().Nodes(ctx, config.Node)
				return p2p.NodesResponse{Nodes: nodes}, err
			})
		},
	}
}

func newClientResolveCmd(config *clientConfiguration) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve",
		Short: "Asks the node to resolve chain conflicts with its peers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientCall(cmd, func(ctx context.Context) (any, error) {
				return config.client().Resolve(ctx, config.Node)
			})
		},
	}
}

func clientCall(cmd *cobra.Command, call func(ctx context.Context) (any, error)) error {
	rsp, err := call(cmd.Context())
	if err != nil {
		return fmt.Errorf("%s: %w", cmd.Name(), err)
	}
	return printJSON(cmd.OutOrStdout(), rsp)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
