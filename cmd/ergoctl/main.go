// Package main provides ergoctl, the operator CLI for offline scoring, migrations and dev tokens.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ergoctl",
		Short:         "Ergonomic risk assessment tooling",
		Long:          "ergoctl scores recorded pose captures offline, manages the assessment database schema and mints development tokens.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newScoreCmd(), newMigrateCmd(), newTokenCmd())
	return root
}

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
