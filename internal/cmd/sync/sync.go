// Package sync is the one-shot sync sub-command.
package sync

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

// Command returns the sync sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Run one full sync pass and exit",
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
			report, err := runner.Run(ctx)
			if err != nil {
				return err
			}
			log.Info("Sync complete",
				"chats", report.ChatsSynced,
				"skipped", report.ChatsSkipped,
				"purged", report.ChatsPurged,
				"failed", report.ChatsFailed,
				"messages", report.Messages,
				"attachments", report.AttachmentsDownloaded,
				"edited", report.Edited,
				"deleted", report.Deleted)
			return nil
		},
	}
}
