package main

import (
	"fmt"

	"zkvault/internal/keeper"

	"github.com/spf13/cobra"
)

var rotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Change the master password and re-encrypt every record",
	Long: `Re-encrypts every record under the new master password locally and sends
the whole set in one request. Interrupting before the commit leaves the
vault untouched; once the commit is sent it completes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		k, err := newKeeper(keeper.WithRotationProgress(printProgress))
		if err != nil {
			return err
		}
		defer k.Close()

		current, err := promptSecret("Current master password: ")
		if err != nil {
			return err
		}
		next, confirm, err := promptNewSecret("New master password: ")
		if err != nil {
			return err
		}

		res, err := k.Rotate(ctx, current, next, confirm)
		if err != nil {
			return err
		}

		fmt.Printf("Rotated %d records. Other devices have been locked.\n", res.RecordsUpdated)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rotateCmd)
}
