package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/telvault/telvault/internal/cmd/migrate"
	"github.com/telvault/telvault/internal/cmd/serve"
	"github.com/telvault/telvault/internal/cmd/stats"
	syncmd "github.com/telvault/telvault/internal/cmd/sync"
	"github.com/telvault/telvault/internal/cmd/verify"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "telvault",
		Usage: "Incremental message archive for Telegram-style services",
		Commands: []*cli.Command{
			syncmd.Command(),
			serve.Command(),
			migrate.Command(),
			verify.Command(),
			stats.Command(),
		},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
