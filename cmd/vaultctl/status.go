package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a master password is set on the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := newKeeper()
		if err != nil {
			return err
		}
		defer k.Close()

		st, err := k.Status(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Server:          %s\n", serverURL())
		fmt.Printf("Master password: %s\n", yesNo(st.HasMasterSecret))
		fmt.Printf("Session:         %s\n", st.State)
		if !st.ExpiresAt.IsZero() {
			fmt.Printf("Expires in:      %s\n", time.Until(st.ExpiresAt).Round(time.Second))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func yesNo(b bool) string {
	if b {
		return "set"
	}
	return "not set"
}
