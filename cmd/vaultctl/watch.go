package main

import (
	"fmt"
	"os"

	"zkvault/internal/client"
	"zkvault/internal/session"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Hold an unlocked session and follow vault changes from other devices",
	Long: `Unlocks, then listens on the server's websocket. A rotation or deletion on
another device locks this session immediately; otherwise it expires after the
session TTL. The command exits when the session ends.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		k, err := unlocked(ctx)
		if err != nil {
			return err
		}
		defer k.Close()

		events, unsubscribe := k.Events()
		defer unsubscribe()

		errc := make(chan error, 1)
		go func() { errc <- k.Watch(ctx) }()

		fmt.Fprintln(os.Stderr, "Unlocked. Watching for changes, Ctrl-C to stop.")

		select {
		case ev := <-events:
			switch ev.Type {
			case session.EventExpired:
				fmt.Fprintln(os.Stderr, "Session expired.")
			default:
				fmt.Fprintln(os.Stderr, "Session locked by a change on another device.")
			}
			return nil
		case err := <-errc:
			if client.IsClosed(err) {
				return nil
			}
			return err
		case <-ctx.Done():
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
