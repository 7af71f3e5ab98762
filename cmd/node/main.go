package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"powledger/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.New().Execute(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "powledger: %v\n", err)
		stop()
		os.Exit(1)
	}
}
