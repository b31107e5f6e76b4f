package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/crosscheckai/crosscheck/pkg/web/middleware/auth"
	"github.com/spf13/cobra"
)

func newTokenCmd(c *cli) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:         "token",
		Short:       "Mint a bearer token for the HTTP API",
		Long:        `Mint an HS256 token signed with auth.jwt_secret, carrying auth.issuer when set.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"logs": "stderr"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.settings.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is not configured")
			}
			gen := auth.NewJWTTokenGenerator([]byte(c.settings.Auth.JWTSecret))
			gen.Issuer = c.settings.Auth.Issuer

			token, err := gen.Generate(subject, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "dashboard", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	cmd.AddCommand(newHashKeyCmd())
	return cmd
}

func newHashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "hash-key [key]",
		Short:       "Print the bcrypt hash of an API key for auth.api_key_hashes",
		Long:        `Hash an X-API-Key value. The key is read from stdin when no argument is given.`,
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{"settings": "skip"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) == 1 {
				key = args[0]
			} else {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read key: %w", err)
				}
				key = strings.TrimSpace(string(data))
			}
			hash, err := auth.HashAPIKey(key)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
}
