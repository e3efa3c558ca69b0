package main

import (
	"fmt"

	"zkvault/internal/domain"

	"github.com/spf13/cobra"
)

var deleteYes bool

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the master password",
	Long: `Deletes the master password and its verification artifact. Stored records
are kept but cannot be decrypted without the deleted password.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !deleteYes {
			answer, err := promptLine(fmt.Sprintf("Type %s to continue: ", domain.DeleteConfirmation))
			if err != nil {
				return err
			}
			if answer != domain.DeleteConfirmation {
				return fmt.Errorf("aborted")
			}
		}

		k, err := newKeeper()
		if err != nil {
			return err
		}
		defer k.Close()

		pass, err := promptSecret("Master password: ")
		if err != nil {
			return err
		}

		if err := k.Delete(cmd.Context(), pass); err != nil {
			return err
		}

		fmt.Println("Master password deleted.")
		return nil
	},
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "skip the confirmation prompt")
	rootCmd.AddCommand(deleteCmd)
}
