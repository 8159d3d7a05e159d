package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/BaSui01/marginflow/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

type migrateOptions struct {
	dbType string
	dbURL  string
}

func newMigrateCmd(root *rootOptions) *cobra.Command {
	opts := &migrateOptions{}
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the SQL checkpoint schema",
		Long: `Migrate applies the embedded checkpoint schema to the database named by
the database section of the config, or by --db-type/--db-url.`,
	}
	cmd.PersistentFlags().StringVar(&opts.dbType, "db-type", "", "Database type: postgres, mysql, sqlite (default: from config)")
	cmd.PersistentFlags().StringVar(&opts.dbURL, "db-url", "", "Database connection URL (default: from config)")

	withCLI := func(fn func(ctx context.Context, cli *migration.CLI, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			m, err := opts.migrator(root)
			if err != nil {
				return err
			}
			defer m.Close()

			cli := migration.NewCLI(m)
			cli.SetOutput(cmd.OutOrStdout())
			return fn(cmd.Context(), cli, args)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: withCLI(func(ctx context.Context, cli *migration.CLI, _ []string) error {
				return cli.RunUp(ctx)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Rollback the last migration",
			Args:  cobra.NoArgs,
			RunE: withCLI(func(ctx context.Context, cli *migration.CLI, _ []string) error {
				return cli.RunDown(ctx)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show migration status",
			Args:  cobra.NoArgs,
			RunE: withCLI(func(ctx context.Context, cli *migration.CLI, _ []string) error {
				return cli.RunStatus(ctx)
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show current migration version",
			Args:  cobra.NoArgs,
			RunE: withCLI(func(ctx context.Context, cli *migration.CLI, _ []string) error {
				return cli.RunVersion(ctx)
			}),
		},
		&cobra.Command{
			Use:   "info",
			Short: "Show migration summary",
			Args:  cobra.NoArgs,
			RunE: withCLI(func(ctx context.Context, cli *migration.CLI, _ []string) error {
				return cli.RunInfo(ctx)
			}),
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Force set migration version (use with caution)",
			Args:  cobra.ExactArgs(1),
			RunE: withCLI(func(ctx context.Context, cli *migration.CLI, args []string) error {
				version, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				return cli.RunForce(ctx, version)
			}),
		},
	)
	return cmd
}

// migrator 命令行参数优先，否则使用配置中的 database 段
func (o *migrateOptions) migrator(root *rootOptions) (*migration.DefaultMigrator, error) {
	if o.dbType != "" && o.dbURL != "" {
		return migration.NewMigratorFromURL(o.dbType, o.dbURL, root.logger)
	}
	dbCfg := root.cfg.Database
	if o.dbType != "" {
		dbCfg.Driver = o.dbType
	}
	return migration.NewMigratorFromDatabaseConfig(dbCfg, root.logger)
}
