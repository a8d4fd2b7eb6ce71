// Package postgres registers the postgres archive backend.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/telvault/telvault/internal/config"
	"github.com/telvault/telvault/internal/metrics"
	"github.com/telvault/telvault/internal/plugin/store/gormstore"
	registrystore "github.com/telvault/telvault/internal/registry/store"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "postgres",
		Loader: func(ctx context.Context) (registrystore.ArchiveStore, error) {
			cfg := config.FromContext(ctx)
			db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
			if err != nil {
				return nil, fmt.Errorf("failed to connect to postgres: %w", err)
			}
			sqlDB, err := db.DB()
			if err != nil {
				return nil, fmt.Errorf("failed to get underlying db: %w", err)
			}
			sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
			sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)

			// Periodically update the open connections gauge.
			go func() {
				ticker := time.NewTicker(15 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						metrics.DBPoolOpenConnections.Set(float64(sqlDB.Stats().OpenConnections))
					}
				}
			}()

			return gormstore.New(db), nil
		},
	})
}
