// Package backend opens the persistence backend selected by configuration.
package backend

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cloudspb/hostbot/internal/config"
	"github.com/cloudspb/hostbot/internal/repository"
	"github.com/cloudspb/hostbot/internal/repository/postgres"
	"github.com/cloudspb/hostbot/internal/repository/sqlite"
)

// Open connects to the configured database and builds its repositories.
// Migrations are not applied; call Store.Database.Migrate.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*repository.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return openSQLite(ctx, cfg, logger)
	case config.DriverPostgres:
		return openPostgres(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("%w: %q", repository.ErrUnknownDriver, cfg.Driver)
	}
}

func openSQLite(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*repository.Store, error) {
	sqliteCfg := sqlite.DefaultConfig(cfg.Path)
	if cfg.JournalMode != "" {
		sqliteCfg.JournalMode = cfg.JournalMode
	}
	if cfg.BusyTimeout > 0 {
		sqliteCfg.BusyTimeout = cfg.BusyTimeout
	}
	if cfg.CacheSize != 0 {
		sqliteCfg.CacheSize = cfg.CacheSize
	}
	if cfg.SynchronousMode != "" {
		sqliteCfg.SynchronousMode = cfg.SynchronousMode
	}

	db, err := sqlite.NewDB(ctx, sqliteCfg, logger.With().Str("db", "sqlite").Logger())
	if err != nil {
		return nil, err
	}

	return &repository.Store{
		Repos: &repository.Repositories{
			User:      sqlite.NewUserRepository(db),
			Account:   sqlite.NewAccountRepository(db),
			ActionLog: sqlite.NewActionLogRepository(db),
		},
		Database: db,
	}, nil
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*repository.Store, error) {
	db, err := postgres.NewDB(ctx, cfg, logger.With().Str("db", "postgres").Logger())
	if err != nil {
		return nil, err
	}

	return &repository.Store{
		Repos: &repository.Repositories{
			User:      postgres.NewUserRepository(db),
			Account:   postgres.NewAccountRepository(db),
			ActionLog: postgres.NewActionLogRepository(db),
		},
		Database: db,
	}, nil
}
