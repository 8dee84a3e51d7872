package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rmacdonaldsmith/topicrelay/internal/httpapi"
	"github.com/spf13/cobra"
)

func newTokenCommand() *cobra.Command {
	var (
		secret  string
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin token for the HTTP API",
		Long: `Mint a signed admin bearer token for /api/v1/admin. The secret must match the
broker's --admin-secret.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("TOPICRELAY_ADMIN_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("admin-secret is required")
			}

			token, expiresAt, err := httpapi.NewJWTAuth(secret, ttl).GenerateToken(subject, true)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "admin-secret", "", "Secret shared with the broker (or TOPICRELAY_ADMIN_SECRET)")
	cmd.Flags().StringVar(&subject, "subject", "admin", "Operator name recorded in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", httpapi.DefaultTokenTTL, "Token lifetime")

	return cmd
}
