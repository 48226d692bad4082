package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/helixir/paper-acquisition-service/internal/database"
)

const migrateConnectTimeout = 30 * time.Second

func newMigrateCmd(c *cli) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the batch history schema",
		Long: `Migrate applies or rolls back the batch history schema in the database
configured under database.*. Migrations are embedded in the binary unless
--path points at a directory.`,
	}
	cmd.PersistentFlags().StringVar(&path, "path", "", "read migrations from this directory instead of the embedded set")

	run := func(cmd *cobra.Command, fn func(*database.Migrator) error) error {
		return c.withMigrator(cmd.Context(), path, fn)
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd, func(m *database.Migrator) error {
					c.logger.Info().Msg("running all pending migrations")
					if err := m.Up(); err != nil {
						return fmt.Errorf("migrate up: %w", err)
					}
					return c.printVersion(cmd, m)
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back every migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd, func(m *database.Migrator) error {
					c.logger.Warn().Msg("rolling back all migrations")
					if err := m.Down(); err != nil {
						return fmt.Errorf("migrate down: %w", err)
					}
					return c.printVersion(cmd, m)
				})
			},
		},
		&cobra.Command{
			Use:   "steps <n>",
			Short: "Apply n migrations, or roll back when n is negative",
			Args:  intArg(func(n int) bool { return n != 0 }, "n must be a non-zero integer"),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, _ := strconv.Atoi(args[0])
				return run(cmd, func(m *database.Migrator) error {
					c.logger.Info().Int("steps", n).Msg("running migration steps")
					if err := m.Steps(n); err != nil {
						return fmt.Errorf("migrate steps: %w", err)
					}
					return c.printVersion(cmd, m)
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd, func(m *database.Migrator) error {
					return c.printVersion(cmd, m)
				})
			},
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Set the schema version without running migrations",
			Long:  "Force records version as current and clears the dirty flag. Use it to recover from a failed migration.",
			Args:  intArg(func(n int) bool { return n >= 0 }, "version must be a non-negative integer"),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, _ := strconv.Atoi(args[0])
				return run(cmd, func(m *database.Migrator) error {
					c.logger.Warn().Int("version", v).Msg("forcing migration version")
					if err := m.Force(v); err != nil {
						return fmt.Errorf("force version: %w", err)
					}
					return c.printVersion(cmd, m)
				})
			},
		},
	)
	return cmd
}

// intArg accepts exactly one integer argument satisfying ok.
func intArg(ok func(int) bool, msg string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(1)(cmd, args); err != nil {
			return err
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || !ok(n) {
			return fmt.Errorf("invalid argument %q: %s", args[0], msg)
		}
		return nil
	}
}

// withMigrator connects to the configured database and runs fn with a
// migrator over the embedded or on-disk migrations.
func (c *cli) withMigrator(ctx context.Context, path string, fn func(*database.Migrator) error) error {
	if path == "" {
		path = c.cfg.Database.MigrationPath
	}

	connectCtx, cancel := context.WithTimeout(ctx, migrateConnectTimeout)
	defer cancel()

	db, err := database.New(connectCtx, &c.cfg.Database, c.logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	source, err := database.MigrationSource(path)
	if err != nil {
		return fmt.Errorf("resolve migrations: %w", err)
	}
	migrator, err := database.NewMigrator(db, source, c.logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			c.logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	return fn(migrator)
}

type versionOutput struct {
	Version uint `yaml:"version"`
	Dirty   bool `yaml:"dirty"`
}

func (c *cli) printVersion(cmd *cobra.Command, m *database.Migrator) error {
	v, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("read migration version: %w", err)
	}
	return writeYAML(cmd.OutOrStdout(), versionOutput{Version: v, Dirty: dirty})
}
