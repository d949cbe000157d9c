package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tetherdev/tether/internal/auth"
	"github.com/tetherdev/tether/internal/config"
)

func tokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration
	var save bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for this project (relay-side secret required)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return fmt.Errorf("no jwt secret configured; run the relay once or set jwt_secret")
			}
			secret, err := base64.StdEncoding.DecodeString(cfg.JWTSecret)
			if err != nil {
				return fmt.Errorf("decode jwt secret: %w", err)
			}

			token, err := auth.IssueToken(secret, subject, cfg.Audience, cfg.Audience, ttl)
			if err != nil {
				return err
			}

			if save {
				if err := os.WriteFile(cfg.TokenPath, []byte(token+"\n"), 0o600); err != nil {
					return fmt.Errorf("write token: %w", err)
				}
				fmt.Printf("token written to %s (expires in %s)\n", cfg.TokenPath, ttl)
				return nil
			}
			fmt.Println(token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "developer", "token subject claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.Flags().BoolVar(&save, "save", false, "write the token to the configured token path")
	return cmd
}
