package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/victornm/tquiz/internal/api"
)

// newTokenCmd mints a bearer token with the configured secret, for local testing.
func newTokenCmd(configPath *string) *cobra.Command {
	var (
		user string
		ttl  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			if c.Auth.Secret == "" {
				return fmt.Errorf("auth secret not configured")
			}

			tok, err := api.NewAuthenticator(c.Auth.Secret, c.Auth.Issuer, nil).Issue(user, ttl)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "user ID to put in the token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
