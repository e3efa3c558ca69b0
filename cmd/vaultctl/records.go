package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"zkvault/internal/keeper"
	"zkvault/internal/strength"

	"github.com/spf13/cobra"
)

var addFlags struct {
	service  string
	username string
	url      string
	category string
	note     bool
	favorite bool
	generate bool
	length   int
}

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Encrypt and store a credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := unlocked(cmd.Context())
		if err != nil {
			return err
		}
		defer k.Close()

		in := &keeper.RecordInput{
			ServiceName: addFlags.service,
			Username:    addFlags.username,
			WebsiteURL:  addFlags.url,
			Category:    addFlags.category,
			Favorite:    addFlags.favorite,
		}

		if addFlags.generate {
			opts := strength.DefaultGenerateOptions()
			opts.Length = addFlags.length
			if in.Password, err = strength.Generate(opts); err != nil {
				return err
			}
		} else if in.Password, err = promptSecret("Credential password: "); err != nil {
			return err
		}

		if addFlags.note {
			if in.Note, err = promptSecret("Secure note: "); err != nil {
				return err
			}
		}

		record, err := k.AddRecord(cmd.Context(), in)
		if err != nil {
			return err
		}

		fmt.Printf("Stored %s (%s).\n", record.ServiceName, record.ID)
		if addFlags.generate {
			fmt.Printf("Generated password: %s\n", in.Password)
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List stored credentials without decrypting them",
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := newKeeper()
		if err != nil {
			return err
		}
		defer k.Close()

		records, err := k.ListRecords(cmd.Context())
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No records.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSERVICE\tUSERNAME\tCATEGORY\tLAST USED")
		for _, r := range records {
			lastUsed := "never"
			if r.LastUsedAt != nil {
				lastUsed = r.LastUsedAt.Local().Format(time.DateTime)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.ServiceName, r.Username, r.Category, lastUsed)
		}
		return w.Flush()
	},
}

var revealCmd = &cobra.Command{
	Use:   "reveal <record-id>",
	Short: "Decrypt and print one credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := unlocked(cmd.Context())
		if err != nil {
			return err
		}
		defer k.Close()

		rec, err := k.RevealRecord(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Service:  %s\n", rec.Record.ServiceName)
		fmt.Printf("Username: %s\n", rec.Record.Username)
		if rec.Record.WebsiteURL != "" {
			fmt.Printf("URL:      %s\n", rec.Record.WebsiteURL)
		}
		fmt.Printf("Password: %s\n", rec.Password)
		if rec.Note != "" {
			fmt.Printf("Note:     %s\n", rec.Note)
		}
		return nil
	},
}

func init() {
	addCmd.Flags().StringVarP(&addFlags.service, "service", "s", "", "service name (required)")
	addCmd.Flags().StringVarP(&addFlags.username, "username", "u", "", "account username (required)")
	addCmd.Flags().StringVar(&addFlags.url, "url", "", "website URL")
	addCmd.Flags().StringVarP(&addFlags.category, "category", "c", "", "category")
	addCmd.Flags().BoolVar(&addFlags.note, "note", false, "prompt for an encrypted note")
	addCmd.Flags().BoolVar(&addFlags.favorite, "favorite", false, "mark as favorite")
	addCmd.Flags().BoolVarP(&addFlags.generate, "generate", "g", false, "generate the password instead of prompting")
	addCmd.Flags().IntVar(&addFlags.length, "length", strength.DefaultGeneratedLength, "generated password length")
	addCmd.MarkFlagRequired("service")
	addCmd.MarkFlagRequired("username")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(revealCmd)
}
