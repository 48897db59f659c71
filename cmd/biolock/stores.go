package main

import (
	"context"
	"fmt"

	"github.com/nerrad567/biolock-core/internal/audit"
	"github.com/nerrad567/biolock-core/internal/auth"
	"github.com/nerrad567/biolock-core/internal/device"
	"github.com/nerrad567/biolock-core/internal/infrastructure/config"
	"github.com/nerrad567/biolock-core/internal/infrastructure/database"
	"github.com/nerrad567/biolock-core/internal/infrastructure/logging"
	"github.com/nerrad567/biolock-core/internal/slot"
	"github.com/nerrad567/biolock-core/migrations"
)

// stores bundles the persistence layer selected by database.driver.
type stores struct {
	users       auth.UserRepository
	slots       slot.Store
	credentials device.CredentialRepository
	audit       audit.Repository

	healthCheck func(ctx context.Context) error
	close       func() error
}

// openStores opens the configured database and builds every repository on
// it. SQLite runs the embedded migrations; the Postgres repositories create
// their own tables.
func openStores(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger) (*stores, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return openPostgresStores(ctx, cfg, log)
	case "", config.DriverSQLite:
		return openSQLiteStores(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func openSQLiteStores(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger) (*stores, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "driver", config.DriverSQLite, "path", cfg.Path)

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete")

	return &stores{
		users:       auth.NewUserRepository(db.DB),
		slots:       slot.NewSQLiteStore(db.DB),
		credentials: device.NewSQLiteRepository(db.DB),
		audit:       audit.NewSQLiteRepository(db.DB),
		healthCheck: db.HealthCheck,
		close:       db.Close,
	}, nil
}

func openPostgresStores(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger) (*stores, error) {
	gdb, err := database.OpenPostgres(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	log.Info("database connected", "driver", config.DriverPostgres)

	fail := func(err error) (*stores, error) {
		database.ClosePostgres(gdb) //nolint:errcheck // already failing
		return nil, err
	}

	users, err := auth.NewGormUserRepository(ctx, gdb)
	if err != nil {
		return fail(fmt.Errorf("preparing users table: %w", err))
	}
	slots, err := slot.NewGormStore(ctx, gdb)
	if err != nil {
		return fail(fmt.Errorf("preparing slots table: %w", err))
	}
	creds, err := device.NewGormRepository(ctx, gdb)
	if err != nil {
		return fail(fmt.Errorf("preparing device credentials table: %w", err))
	}
	auditRepo, err := audit.NewGormRepository(ctx, gdb)
	if err != nil {
		return fail(fmt.Errorf("preparing audit table: %w", err))
	}

	return &stores{
		users:       users,
		slots:       slots,
		credentials: creds,
		audit:       auditRepo,
		healthCheck: func(ctx context.Context) error { return database.PostgresHealthCheck(ctx, gdb) },
		close:       func() error { return database.ClosePostgres(gdb) },
	}, nil
}
