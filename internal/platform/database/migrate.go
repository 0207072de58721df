package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migrator applies the embedded schema migrations with goose.
type Migrator struct {
	provider *goose.Provider
	log      *slog.Logger
	closeFn  func() error
}

// NewMigrator returns a migrator that runs over the given pool.
func NewMigrator(pool *pgxpool.Pool, log *slog.Logger) (*Migrator, error) {
	if pool == nil {
		return nil, fmt.Errorf("nil pool provided")
	}
	if log == nil {
		log = slog.Default()
	}

	migrations, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("locate migrations: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure goose: %w", err)
	}
	return &Migrator{provider: provider, log: log, closeFn: db.Close}, nil
}

// Up applies pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	results, err := m.provider.Up(runCtx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		m.log.Info("migration applied", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

// Down rolls back the latest migration, or every migration above target
// when target is positive.
func (m *Migrator) Down(ctx context.Context, target int64) error {
	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	if target > 0 {
		m.log.Info("rolling back migrations", "target", target)
		if _, err := m.provider.DownTo(runCtx, target); err != nil {
			return fmt.Errorf("rollback to version %d: %w", target, err)
		}
		return nil
	}
	m.log.Info("rolling back latest migration")
	if _, err := m.provider.Down(runCtx); err != nil {
		return fmt.Errorf("rollback latest migration: %w", err)
	}
	return nil
}

// MigrationState is one row of migration status output.
type MigrationState struct {
	Version   int64
	Path      string
	Applied   bool
	AppliedAt time.Time
}

// Status reports applied and pending migrations.
func (m *Migrator) Status(ctx context.Context) ([]MigrationState, error) {
	statuses, err := m.provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("migration status: %w", err)
	}
	out := make([]MigrationState, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, MigrationState{
			Version:   s.Source.Version,
			Path:      s.Source.Path,
			Applied:   s.State == goose.StateApplied,
			AppliedAt: s.AppliedAt,
		})
	}
	return out, nil
}

// Close releases the sql.DB wrapper. The pool itself stays open.
func (m *Migrator) Close() error {
	return m.closeFn()
}
