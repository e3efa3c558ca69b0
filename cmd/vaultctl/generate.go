package main

import (
	"fmt"
	"io"

	"zkvault/internal/strength"

	"github.com/spf13/cobra"
)

var genOpts = strength.DefaultGenerateOptions()

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a random password",
	RunE: func(cmd *cobra.Command, args []string) error {
		pw, err := strength.Generate(genOpts)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), pw)
		return nil
	},
}

var strengthCmd = &cobra.Command{
	Use:   "strength",
	Short: "Score a candidate master password against the policy",
	RunE: func(cmd *cobra.Command, args []string) error {
		pass, err := promptSecret("Password to check: ")
		if err != nil {
			return err
		}
		if !printStrength(cmd.OutOrStdout(), pass) {
			return strength.ErrWeakSecret
		}
		return nil
	},
}

func init() {
	generateCmd.Flags().IntVarP(&genOpts.Length, "length", "l", strength.DefaultGeneratedLength, "password length")
	generateCmd.Flags().BoolVar(&genOpts.Lower, "lower", true, "include lowercase letters")
	generateCmd.Flags().BoolVar(&genOpts.Upper, "upper", true, "include uppercase letters")
	generateCmd.Flags().BoolVar(&genOpts.Digits, "digits", true, "include digits")
	generateCmd.Flags().BoolVar(&genOpts.Symbols, "symbols", true, "include symbols")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(strengthCmd)
}

// printStrength writes the score and any failed rules, and reports whether
// the password passes the master password policy.
func printStrength(w io.Writer, pass string) bool {
	r := strength.Check(pass)
	fmt.Fprintf(w, "Strength: %s (%d/100)\n", strength.Label(r.Score), r.Score)
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  x %s\n", e)
	}
	for _, warn := range r.Warnings {
		fmt.Fprintf(w, "  ! %s\n", warn)
	}
	return r.Valid()
}

