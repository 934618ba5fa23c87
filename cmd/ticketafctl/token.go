package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Syaminata/ticketaf-sub000/internal/auth"
	"github.com/Syaminata/ticketaf-sub000/internal/config"
)

func newTokenCmd() *cobra.Command {
	var userID, role string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a JWT signed with JWT_SECRET (development only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return errors.New("--user is required")
			}
			tok, err := auth.NewJWTService(config.Load().JWTSecret).GenerateToken(userID, role)
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id to embed in the token")
	cmd.Flags().StringVar(&role, "role", auth.RoleAdmin, "Role to embed in the token")
	return cmd
}
