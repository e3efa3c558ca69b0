package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Check the master password against the server and the local artifact",
	Long: `Verifies the master password twice: once by the server's hash and once by
decrypting the verification artifact locally. Legacy artifacts are upgraded
in the process. The unlocked session lasts only as long as this command.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := unlocked(cmd.Context())
		if err != nil {
			return err
		}
		defer k.Close()

		st, err := k.Status(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Unlocked until %s.\n", st.ExpiresAt.Format(time.Kitchen))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(unlockCmd)
}
