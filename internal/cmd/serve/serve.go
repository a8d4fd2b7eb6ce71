// Package serve runs the viewer API and, optionally, the scheduled sync
// driver and the live-update listener alongside it.
package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/telvault/telvault/internal/cmd/cmdutil"
	"github.com/telvault/telvault/internal/config"
	"github.com/telvault/telvault/internal/media"
	"github.com/telvault/telvault/internal/service"
	syncengine "github.com/telvault/telvault/internal/sync"
	"github.com/telvault/telvault/internal/viewer"
	"github.com/urfave/cli/v3"

	// Import plugins to trigger init() registration.
	_ "github.com/telvault/telvault/internal/plugin/source/jsonexport"
	_ "github.com/telvault/telvault/internal/plugin/store/postgres"
	_ "github.com/telvault/telvault/internal/plugin/store/sqlite"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	flags := append(cmdutil.Flags(),
		&cli.IntFlag{
			Name:     "port",
			Category: "Server:",
			Sources:  cli.EnvVars("TELVAULT_PORT"),
			Usage:    "HTTP server port",
		},
		&cli.BoolFlag{
			Name:     "with-sync",
			Category: "Server:",
			Sources:  cli.EnvVars("TELVAULT_WITH_SYNC"),
			Usage:    "Run the sync scheduler alongside the viewer",
		},
		&cli.DurationFlag{
			Name:     "sync-interval",
			Category: "Server:",
			Sources:  cli.EnvVars("TELVAULT_SYNC_INTERVAL"),
			Usage:    "Interval between scheduled sync runs",
		},
		&cli.BoolFlag{
			Name:     "listener",
			Category: "Server:",
			Sources:  cli.EnvVars("TELVAULT_LISTENER"),
			Usage:    "Apply live updates between scheduled runs",
		},
	)
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the archive viewer API",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := cmdutil.LoadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.IsSet("port") {
				cfg.Port = cmd.Int("port")
			}
			if cmd.IsSet("sync-interval") {
				cfg.SyncInterval = cmd.Duration("sync-interval")
			}
			if cmd.IsSet("listener") {
				cfg.EnableListener = cmd.Bool("listener")
			}
			return run(config.WithContext(ctx, cfg), cfg, cmd.Bool("with-sync"))
		},
	}
}

func run(ctx context.Context, cfg *config.Config, withSync bool) error {
	st, err := cmdutil.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	mediaStore := media.NewStore(cfg.Media.Path, cfg.Media.Deduplicate)

	if withSync {
		conn, err := cmdutil.OpenSource(ctx)
		if err != nil {
			return err
		}
		src, err := conn.Acquire(ctx)
		if err != nil {
			return err
		}
		defer conn.Release()

		runner := syncengine.NewRunner(src, st, mediaStore, cfg)
		scheduler := service.NewScheduler(runner, conn, cfg.SyncInterval)
		go scheduler.Start(ctx)

		if cfg.EnableListener {
			listener := service.NewListener(conn, st, mediaStore, cfg)
			go listener.Start(ctx)
		}
	}

	router := viewer.NewRouter(st, mediaStore.Root())
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Viewer listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	log.Info("Server stopped")
	return nil
}
