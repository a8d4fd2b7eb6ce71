// Package stats prints archive statistics.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/telvault/telvault/internal/cmd/cmdutil"
	"github.com/telvault/telvault/internal/config"
	"github.com/urfave/cli/v3"

	// Import plugins to trigger init() registration.
	_ "github.com/telvault/telvault/internal/plugin/store/postgres"
	_ "github.com/telvault/telvault/internal/plugin/store/sqlite"
)

// Command returns the stats sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Print archive statistics as JSON",
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

			stats, err := st.Stats(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(stats); err != nil {
				return fmt.Errorf("encode stats: %w", err)
			}
			return nil
		},
	}
}
