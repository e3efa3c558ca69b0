package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:     "init",
	Aliases: []string{"create"},
	Short:   "Create the master password for this account",
	Long: `Creates the master password. The verification artifact is built locally;
the server stores it alongside a hash of the password and cannot decrypt
anything with either.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := newKeeper()
		if err != nil {
			return err
		}
		defer k.Close()

		pass, confirm, err := promptNewSecret("New master password: ")
		if err != nil {
			return err
		}

		if err := k.Create(cmd.Context(), pass, confirm); err != nil {
			return err
		}

		fmt.Println("Master password created.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
