package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/riverly-dev/riverly/internal/platform/config"
	"github.com/riverly-dev/riverly/pkg/platform/auth"
	"github.com/riverly-dev/riverly/pkg/printer"
)

// NewTokenCmd mints a session token for local testing of the API.
func NewTokenCmd() *cobra.Command {
	var (
		orgID    string
		memberID string
		ttl      time.Duration
		output   string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a session token signed with JWT_PRIVATE_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			outputType, err := printer.ParseOutputType(output)
			if err != nil {
				return err
			}
			cfg, err := config.Parse()
			if err != nil {
				return err
			}
			if cfg.JWTPrivateKey == "" {
				return errors.New("JWT_PRIVATE_KEY is not set")
			}
			manager, err := auth.NewJWTManager(cfg.JWTPrivateKey, ttl)
			if err != nil {
				return err
			}
			token, err := manager.GenerateToken(cmd.Context(), orgID, memberID)
			if err != nil {
				return err
			}

			p := printer.New(cmd.OutOrStdout(), outputType)
			if done, err := p.Structured(token); done || err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token.Token)
			return err
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "Organization id")
	cmd.Flags().StringVar(&memberID, "member", "", "Member id")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, json, yaml)")
	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("member")
	return cmd
}
