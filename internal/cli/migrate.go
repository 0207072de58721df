package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/riverly-dev/riverly/internal/platform"
	"github.com/riverly-dev/riverly/internal/platform/config"
	"github.com/riverly-dev/riverly/internal/platform/database"
	"github.com/riverly-dev/riverly/pkg/printer"
)

// NewMigrateCmd groups the schema migration commands.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}
	cmd.AddCommand(newMigrateUpCmd(), newMigrateDownCmd(), newMigrateStatusCmd())
	return cmd
}

func withMigrator(ctx context.Context, fn func(m *database.Migrator) error) error {
	cfg, err := config.Parse()
	if err != nil {
		return err
	}
	if cfg.UsesMemoryDatabase() {
		return fmt.Errorf("DATABASE_URL selects the in-memory store, nothing to migrate")
	}
	log := platform.NewLogger(cfg)

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pool.Close()

	m, err := database.NewMigrator(pool, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Warn("failed to close migrator", "error", err)
		}
	}()
	return fn(m)
}

func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd.Context(), func(m *database.Migrator) error {
				if err := m.Up(cmd.Context()); err != nil {
					return err
				}
				printer.New(cmd.OutOrStdout(), printer.OutputTypeTable).Success("Schema is up to date")
				return nil
			})
		},
	}
}

func newMigrateDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down <version>",
		Short: "Roll back migrations above the given version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || target < 0 {
				return fmt.Errorf("invalid migration version %q", args[0])
			}
			return withMigrator(cmd.Context(), func(m *database.Migrator) error {
				if err := m.Down(cmd.Context(), target); err != nil {
					return err
				}
				printer.New(cmd.OutOrStdout(), printer.OutputTypeTable).Success(fmt.Sprintf("Rolled back to version %d", target))
				return nil
			})
		},
	}
}

func newMigrateStatusCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			outputType, err := printer.ParseOutputType(output)
			if err != nil {
				return err
			}
			return withMigrator(cmd.Context(), func(m *database.Migrator) error {
				states, err := m.Status(cmd.Context())
				if err != nil {
					return err
				}
				return printMigrations(cmd, outputType, states)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, json, yaml)")
	return cmd
}

func printMigrations(cmd *cobra.Command, outputType printer.OutputType, states []database.MigrationState) error {
	p := printer.New(cmd.OutOrStdout(), outputType)
	if done, err := p.Structured(states); done || err != nil {
		return err
	}
	t := p.Table()
	t.SetHeaders("Version", "Migration", "Applied")
	for _, s := range states {
		applied := "pending"
		if s.Applied {
			applied = s.AppliedAt.UTC().Format("2006-01-02 15:04:05")
		}
		t.AddRow(s.Version, s.Path, applied)
	}
	return t.Render()
}
