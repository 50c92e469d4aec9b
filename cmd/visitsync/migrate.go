package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/visitsync/internal/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the remote Postgres schema",
	Long: `Applies the embedded schema to api.database_url. Only used by the
postgres backend; the daemon also migrates up on start.`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := migrationRunner()
		if err != nil {
			return err
		}
		if err := r.Up(); err != nil {
			return err
		}
		printSuccess("Schema is up to date")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert all migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !migrateConfirm {
			return errors.New("down drops every table; pass --yes to confirm")
		}
		r, err := migrationRunner()
		if err != nil {
			return err
		}
		if err := r.Down(); err != nil {
			return err
		}
		printSuccess("Schema reverted")
		return nil
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the applied schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := migrationRunner()
		if err != nil {
			return err
		}
		version, dirty, err := r.Version()
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(map[string]interface{}{"version": version, "dirty": dirty})
			return nil
		}
		printField("Version", version)
		printField("Dirty", dirty)
		return nil
	},
}

var migrateConfirm bool

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)

	migrateDownCmd.Flags().BoolVar(&migrateConfirm, "yes", false, "Confirm reverting the schema")
}

func migrationRunner() (*migrations.Runner, error) {
	if cfg.API.DatabaseURL == "" {
		return nil, errors.New("api.database_url is not set")
	}
	return migrations.NewRunner(cfg.API.DatabaseURL, nil, logger), nil
}
