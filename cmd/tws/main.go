package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/3B132016/tws/cmd/tws/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := commands.Execute(ctx); err != nil {
		os.Exit(1)
	}
}
