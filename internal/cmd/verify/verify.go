// Package verify is the standalone media verification sub-command.
package verify

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/telvault/telvault/internal/cmd/cmdutil"
	"github.com/telvault/telvault/internal/config"
	"github.com/telvault/telvault/internal/media"
	syncengine "github.com/telvault/telvault/internal/sync"
	"github.com/urfave/cli/v3"

	// Import plugins to trigger init() registration.
	_ "github.com/telvault/telvault/internal/plugin/source/jsonexport"
	_ "github.com/telvault/telvault/internal/plugin/store/postgres"
	_ "github.com/telvault/telvault/internal/plugin/store/sqlite"
)

// Command returns the verify sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "Check downloaded media on disk and redownload damaged files",
		Flags: cmdutil.Flags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := cmdutil.LoadConfig(cmd)
			if err != nil {
				return err
			}
			ctx = config.WithContext(ctx, cfg)

			st, err := cmdutil.OpenStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			conn, err := cmdutil.OpenSource(ctx)
			if err != nil {
				return err
			}
			src, err := conn.Acquire(ctx)
			if err != nil {
				return err
			}
			defer conn.Release()

			mediaStore := media.NewStore(cfg.Media.Path, cfg.Media.Deduplicate)
			runner := syncengine.NewRunner(src, st, mediaStore, cfg)
			n, err := runner.VerifyAllMedia(ctx)
			if err != nil {
				return err
			}
			log.Info("Verification complete", "redownloaded", n)
			return nil
		},
	}
}
