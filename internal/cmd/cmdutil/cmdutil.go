// Package cmdutil holds the flag set and bootstrap helpers shared by the
// telvault sub-commands.
package cmdutil

import (
	"context"
	"fmt"
	"time"

	"github.com/telvault/telvault/internal/config"
	registrysource "github.com/telvault/telvault/internal/registry/source"
	registrystore "github.com/telvault/telvault/internal/registry/store"
	"github.com/telvault/telvault/internal/source"
	"github.com/urfave/cli/v3"
)

// Flags returns the common flag set. Every flag has an env var source so
// container deployments can skip the config file entirely.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Sources: cli.EnvVars("TELVAULT_CONFIG"),
			Usage:   "YAML config file; flags override its values",
		},

		// ── Database ──────────────────────────────────────────────
		&cli.StringFlag{
			Name:     "db-kind",
			Category: "Database:",
			Sources:  cli.EnvVars("TELVAULT_DB_KIND"),
			Usage:    "Store backend (sqlite|postgres)",
		},
		&cli.StringFlag{
			Name:     "db-url",
			Category: "Database:",
			Sources:  cli.EnvVars("TELVAULT_DB_URL"),
			Usage:    "Database connection URL",
		},

		// ── Source ────────────────────────────────────────────────
		&cli.StringFlag{
			Name:     "source",
			Category: "Source:",
			Sources:  cli.EnvVars("TELVAULT_SOURCE"),
			Usage:    "Remote source backend",
		},
		&cli.StringFlag{
			Name:     "source-path",
			Category: "Source:",
			Sources:  cli.EnvVars("TELVAULT_SOURCE_PATH"),
			Usage:    "Backend-local data path (export directory for jsonexport)",
		},

		// ── Media ─────────────────────────────────────────────────
		&cli.StringFlag{
			Name:     "media-path",
			Category: "Media:",
			Sources:  cli.EnvVars("TELVAULT_MEDIA_PATH"),
			Usage:    "Root media directory",
		},
		&cli.Int64Flag{
			Name:     "media-max-size-mb",
			Category: "Media:",
			Sources:  cli.EnvVars("TELVAULT_MEDIA_MAX_SIZE_MB"),
			Usage:    "Skip downloading attachments larger than this",
		},
		&cli.BoolFlag{
			Name:     "media-no-download",
			Category: "Media:",
			Sources:  cli.EnvVars("TELVAULT_MEDIA_NO_DOWNLOAD"),
			Usage:    "Record attachment metadata without downloading files",
		},
		&cli.BoolFlag{
			Name:     "media-no-dedup",
			Category: "Media:",
			Sources:  cli.EnvVars("TELVAULT_MEDIA_NO_DEDUP"),
			Usage:    "Store a private copy per chat instead of shared blobs",
		},
		&cli.BoolFlag{
			Name:     "media-verify",
			Category: "Media:",
			Sources:  cli.EnvVars("TELVAULT_MEDIA_VERIFY"),
			Usage:    "Verify and redownload damaged media after each run",
		},

		// ── Sync ──────────────────────────────────────────────────
		&cli.IntFlag{
			Name:     "batch-size",
			Category: "Sync:",
			Sources:  cli.EnvVars("TELVAULT_BATCH_SIZE"),
			Usage:    "Messages per commit batch",
		},
		&cli.IntFlag{
			Name:     "checkpoint-interval",
			Category: "Sync:",
			Sources:  cli.EnvVars("TELVAULT_CHECKPOINT_INTERVAL"),
			Usage:    "Advance the checkpoint every Nth batch",
		},
		&cli.BoolFlag{
			Name:     "sync-deletions-edits",
			Category: "Sync:",
			Sources:  cli.EnvVars("TELVAULT_SYNC_DELETIONS_EDITS"),
			Usage:    "Rescan archived messages for upstream edits and deletions",
		},
		&cli.StringFlag{
			Name:     "include-ids",
			Category: "Sync:",
			Sources:  cli.EnvVars("TELVAULT_INCLUDE_IDS"),
			Usage:    "Comma-separated chat IDs to always sync",
		},
		&cli.StringFlag{
			Name:     "exclude-ids",
			Category: "Sync:",
			Sources:  cli.EnvVars("TELVAULT_EXCLUDE_IDS"),
			Usage:    "Comma-separated chat IDs to exclude and purge",
		},
		&cli.StringFlag{
			Name:     "priority-ids",
			Category: "Sync:",
			Sources:  cli.EnvVars("TELVAULT_PRIORITY_IDS"),
			Usage:    "Comma-separated chat IDs synced before all others",
		},
	}
}

// LoadConfig builds the effective config: defaults, then the YAML file,
// then explicitly set flags.
func LoadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path := cmd.String("config"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if cmd.IsSet("db-kind") {
		cfg.DBKind = cmd.String("db-kind")
	}
	if cmd.IsSet("db-url") {
		cfg.DBURL = cmd.String("db-url")
	}
	if cmd.IsSet("source") {
		cfg.SourceKind = cmd.String("source")
	}
	if cmd.IsSet("source-path") {
		cfg.SourcePath = cmd.String("source-path")
	}
	if cmd.IsSet("media-path") {
		cfg.Media.Path = cmd.String("media-path")
	}
	if cmd.IsSet("media-max-size-mb") {
		cfg.Media.MaxSizeMB = cmd.Int64("media-max-size-mb")
	}
	if cmd.IsSet("media-no-download") {
		cfg.Media.Download = !cmd.Bool("media-no-download")
	}
	if cmd.IsSet("media-no-dedup") {
		cfg.Media.Deduplicate = !cmd.Bool("media-no-dedup")
	}
	if cmd.IsSet("media-verify") {
		cfg.Media.Verify = cmd.Bool("media-verify")
	}
	if cmd.IsSet("batch-size") {
		cfg.BatchSize = cmd.Int("batch-size")
	}
	if cmd.IsSet("checkpoint-interval") {
		cfg.CheckpointInterval = cmd.Int("checkpoint-interval")
	}
	if cmd.IsSet("sync-deletions-edits") {
		cfg.SyncDeletionsEdits = cmd.Bool("sync-deletions-edits")
	}
	for flag, dst := range map[string]*config.IDSet{
		"include-ids":  &cfg.Filter.IncludeIDs,
		"exclude-ids":  &cfg.Filter.ExcludeIDs,
		"priority-ids": &cfg.Filter.PriorityIDs,
	} {
		if !cmd.IsSet(flag) {
			continue
		}
		set, err := config.ParseIDSet(cmd.String(flag))
		if err != nil {
			return nil, fmt.Errorf("--%s: %w", flag, err)
		}
		*dst = set
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// OpenStore selects the configured store backend and runs migrations
// when enabled. ctx must carry the config.
func OpenStore(ctx context.Context) (registrystore.ArchiveStore, error) {
	cfg := config.FromContext(ctx)
	loader, err := registrystore.Select(cfg.DBKind)
	if err != nil {
		return nil, err
	}
	st, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.MigrateAtStart {
		migCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		if err := st.Migrate(migCtx); err != nil {
			st.Close()
			return nil, fmt.Errorf("migrate schema: %w", err)
		}
	}
	return st, nil
}

// OpenSource selects the configured source backend and wraps it for
// shared use.
func OpenSource(ctx context.Context) (*source.SharedConn, error) {
	cfg := config.FromContext(ctx)
	loader, err := registrysource.Select(cfg.SourceKind)
	if err != nil {
		return nil, err
	}
	conn, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	return source.NewSharedConn(conn), nil
}
