package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/trackrec/trackrec/internal/auth"
)

func newTokenCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage device tokens for the fixes endpoint",
	}

	var ttl time.Duration
	issue := &cobra.Command{
		Use:   "issue DEVICE_ID",
		Short: "Issue a signed device token",
		Long:  `Issue a token a device presents as "Authorization: Bearer <token>" when pushing fixes. Signed with auth.signing_key.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load(cmd)
			if err != nil {
				return err
			}
			if cfg.Auth.SigningKey == "" {
				return errors.New("auth.signing_key is not configured (set TRACKREC_AUTH_SIGNING_KEY)")
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}

			svc, err := auth.NewTokenService(auth.TokenConfig{
				SigningKey: cfg.Auth.SigningKey,
				Issuer:     cfg.Auth.Issuer,
				Audience:   cfg.Auth.Audience,
				TTL:        ttl,
			})
			if err != nil {
				return err
			}

			token, expires, err := svc.Issue(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.UTC().Format(time.RFC3339))
			return nil
		},
	}
	issue.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default auth.token_ttl)")

	cmd.AddCommand(issue)
	return cmd
}
