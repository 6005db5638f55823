package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"example.com/ergorisk/internal/auth"
	"example.com/ergorisk/internal/config"
	authlib "example.com/ergorisk/internal/platform/auth"
)

func newTokenCmd() *cobra.Command {
	var (
		subject string
		tenant  string
		scopes  []string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer token signed with JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			token, err := authlib.Issue(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, subject, tenant, scopes, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "dev-user", "Token subject")
	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant the token is scoped to")
	cmd.Flags().StringSliceVar(&scopes, "scope", auth.AllScopes, "Granted scopes")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}
