package main

import (
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/ignatij/coachflow/internal/config"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{Use: "coachflow-migrate", SilenceUsage: true}

// newMigrate resolves the Postgres DSN from --db or the DB_* settings.
func newMigrate(cmd *cobra.Command) (*migrate.Migrate, error) {
	connStr, _ := cmd.Flags().GetString("db")
	path, _ := cmd.Flags().GetString("path")
	if connStr == "" {
		cfgFile, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return nil, err
		}
		if cfg.DB.Driver != "postgres" {
			return nil, errors.Errorf("migrations target postgres; DB_DRIVER is %q (sqlite applies its schema on open)", cfg.DB.Driver)
		}
		connStr = cfg.DatabaseDSN()
	}
	m, err := migrate.New("file://"+path, connStr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize migrations")
	}
	return m, nil
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newMigrate(cmd)
		if err != nil {
			return err
		}
		defer m.Close()
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			return errors.Wrap(err, "failed to apply migrations")
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied successfully")
		return nil
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Revert the last migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newMigrate(cmd)
		if err != nil {
			return err
		}
		defer m.Close()
		if err := m.Steps(-1); err != nil {
			return errors.Wrap(err, "failed to revert migration")
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Reverted the last migration")
		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().String("db", "", "Postgres connection string (optional if DB_* env vars are set)")
	rootCmd.PersistentFlags().String("path", "migrations", "Migrations directory")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ./coachflow.yaml)")
	rootCmd.AddCommand(migrateCmd, rollbackCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
