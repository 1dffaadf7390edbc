package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/project-kessel/userinfo/internal/database"
)

// NewMigrateCmd creates the migrate command
func NewMigrateCmd() *cobra.Command {
	var dsn string

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the userinfo database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	migrateCmd.PersistentFlags().StringVar(&dsn, "database-dsn", "", "PostgreSQL connection string; defaults to database.dsn from configuration")

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, dsn, func(m *database.Migrator) error {
				changed, err := m.Up()
				if err != nil {
					return fmt.Errorf("apply migrations: %w", err)
				}
				if !changed {
					cmd.Println("No schema changes to apply.")
					return nil
				}
				return printVersion(cmd, m, "Applied all pending migrations")
			})
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "down <steps>",
		Short: "Roll back schema migrations by step count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, err := parseMigrationSteps(args[0])
			if err != nil {
				return err
			}
			return withMigrator(cmd, dsn, func(m *database.Migrator) error {
				changed, err := m.Down(steps)
				if err != nil {
					return fmt.Errorf("rollback migrations: %w", err)
				}
				if !changed {
					cmd.Println("No schema changes to rollback.")
					return nil
				}
				return printVersion(cmd, m, "Rolled back migrations")
			})
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, dsn, func(m *database.Migrator) error {
				return printVersion(cmd, m, "Schema")
			})
		},
	})

	return migrateCmd
}

func withMigrator(cmd *cobra.Command, dsnFlag string, fn func(*database.Migrator) error) error {
	dsn, err := resolveDSN(cmd, dsnFlag)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := database.Open(ctx, dsn)
	if err != nil {
		return err
	}

	m, err := database.NewMigrator(db)
	if err != nil {
		_ = db.Close()
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			cmd.PrintErrf("warning: failed to close migration runner cleanly: %v\n", closeErr)
		}
	}()

	return fn(m)
}

func resolveDSN(cmd *cobra.Command, dsnFlag string) (string, error) {
	if dsn := strings.TrimSpace(dsnFlag); dsn != "" {
		return dsn, nil
	}
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return "", err
	}
	if cfg.Database.DSN == "" {
		return "", errors.New("missing database DSN: set --database-dsn, database.dsn or USERINFO_DATABASE__DSN")
	}
	return cfg.Database.DSN, nil
}

func parseMigrationSteps(arg string) (int, error) {
	steps, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || steps <= 0 {
		return 0, fmt.Errorf("invalid migration steps %q: expected a positive integer", arg)
	}
	return steps, nil
}

func printVersion(cmd *cobra.Command, m *database.Migrator, prefix string) error {
	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		cmd.Printf("%s: version %d (dirty)\n", prefix, version)
		return nil
	}
	cmd.Printf("%s: version %d\n", prefix, version)
	return nil
}
