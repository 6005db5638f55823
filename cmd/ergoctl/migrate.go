package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"example.com/ergorisk/internal/persistence/postgres"
)

func newMigrateCmd() *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the assessment database schema",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if databaseURL == "" {
				databaseURL = os.Getenv("POSTGRES_URL")
			}
			if databaseURL == "" {
				return errors.New("database URL is required (set POSTGRES_URL or use --db-url)")
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&databaseURL, "db-url", "", "PostgreSQL URL (defaults to POSTGRES_URL)")

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := postgres.Migrate(databaseURL); err != nil {
				return err
			}
			return printVersion(cmd, databaseURL)
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := postgres.Rollback(databaseURL, steps); err != nil {
				return err
			}
			return printVersion(cmd, databaseURL)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printVersion(cmd, databaseURL)
		},
	}

	cmd.AddCommand(up, down, version)
	return cmd
}

func printVersion(cmd *cobra.Command, databaseURL string) error {
	version, dirty, err := postgres.MigrationVersion(databaseURL)
	if err != nil {
		return err
	}
	if dirty {
		fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty)\n", version)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
	return nil
}
