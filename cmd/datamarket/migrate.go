package main

import (
	"errors"
	"fmt"

	"datamarket/config"
	pgStorage "datamarket/internal/adapter/storage/postgres"

	"github.com/spf13/cobra"
)

var errNeedsPostgres = errors.New("this command requires the postgres storage driver")

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMigration(cmd, opts, true)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMigration(cmd, opts, false)
			},
		},
	)
	return cmd
}

func runMigration(cmd *cobra.Command, opts *rootOptions, up bool) error {
	cfg, log, err := opts.load(cmd)
	if err != nil {
		return err
	}
	if cfg.Storage.Driver != config.DriverPostgres {
		return errNeedsPostgres
	}

	pool, err := pgStorage.NewPool(cmd.Context(), cfg.Database, log)
	if err != nil {
		return fmt.Errorf("connecting to PostgreSQL: %w", err)
	}
	defer pool.Close()

	if up {
		return pgStorage.Migrate(pool, log)
	}
	return pgStorage.Rollback(pool, log)
}
