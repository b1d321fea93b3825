package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/aura-webinar/liveshop/internal/auth"
	"github.com/aura-webinar/liveshop/internal/middleware"
)

var (
	tokenUser   string
	tokenName   string
	tokenAvatar string
	tokenRole   string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a JWT signed with JWT_SECRET (development)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		id := uuid.New()
		if tokenUser != "" {
			parsed, err := uuid.Parse(tokenUser)
			if err != nil {
				return fmt.Errorf("invalid user id: %w", err)
			}
			id = parsed
		}
		tok, err := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours).Generate(id, tokenName, tokenAvatar, tokenRole)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id (random when empty)")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "display name shown in chat")
	tokenCmd.Flags().StringVar(&tokenAvatar, "avatar", "", "avatar URL")
	tokenCmd.Flags().StringVar(&tokenRole, "role", middleware.RoleSeller, "role claim")
}
