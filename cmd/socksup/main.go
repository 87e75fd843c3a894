package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alfaoz/socksup/internal/cli"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return cli.NewApp().Execute(ctx, args)
}
