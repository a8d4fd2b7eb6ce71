// Package migrate is the schema-migration sub-command.
package migrate

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/telvault/telvault/internal/cmd/cmdutil"
	"github.com/telvault/telvault/internal/config"
	registrystore "github.com/telvault/telvault/internal/registry/store"
	"github.com/urfave/cli/v3"

	// Import plugins to trigger init() registration.
	_ "github.com/telvault/telvault/internal/plugin/store/postgres"
	_ "github.com/telvault/telvault/internal/plugin/store/sqlite"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Run database migrations and exit",
		Flags: cmdutil.Flags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := cmdutil.LoadConfig(cmd)
			if err != nil {
				return err
			}
			ctx = config.WithContext(ctx, cfg)

			loader, err := registrystore.Select(cfg.DBKind)
			if err != nil {
				return err
			}
			st, err := loader(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			log.Info("Running migrations", "dbKind", cfg.DBKind)
			if err := st.Migrate(ctx); err != nil {
				return err
			}
			log.Info("Migrations completed")
			return nil
		},
	}
}
