package main

import (
	"fmt"

	"zkvault/pkg/jwt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var tokenCmd = &cobra.Command{
	Use:    "token <user-id>",
	Short:  "Mint a development access token signed with JWT_SECRET",
	Long:   `Mints an access token for local development. Production deployments issue tokens from their own identity provider.`,
	Args:   cobra.ExactArgs(1),
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := viper.GetString("jwt_secret")
		if secret == "" {
			return fmt.Errorf("JWT_SECRET is not set")
		}

		token, err := jwt.GenerateToken(args[0], viper.GetDuration("jwt_expiration"), secret)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}
