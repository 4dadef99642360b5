package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"callpilot/cmd/callctl/commands"
)

// Version information (set via ldflags during build)
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.Execute(ctx, Version); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
