// Package sqlite registers the sqlite archive backend. The archive is a
// single-writer workload, so sqlite with WAL is the default.
package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/telvault/telvault/internal/config"
	"github.com/telvault/telvault/internal/plugin/store/gormstore"
	registrystore "github.com/telvault/telvault/internal/registry/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "sqlite",
		Loader: func(ctx context.Context) (registrystore.ArchiveStore, error) {
			cfg := config.FromContext(ctx)
			db, err := gorm.Open(sqlite.Open(DSN(cfg.DBURL)), &gorm.Config{})
			if err != nil {
				return nil, fmt.Errorf("failed to open sqlite db: %w", err)
			}
			sqlDB, err := db.DB()
			if err != nil {
				return nil, fmt.Errorf("failed to get underlying db: %w", err)
			}
			// Concurrent writes from the listener and the scheduler go
			// through one connection; WAL plus a busy timeout covers the
			// rest.
			sqlDB.SetMaxOpenConns(1)
			return gormstore.New(db), nil
		},
	})
}

// DSN appends the WAL and busy-timeout pragmas unless the URL already
// carries options.
func DSN(url string) string {
	if strings.Contains(url, "?") {
		return url
	}
	return url + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
}
