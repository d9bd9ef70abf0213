package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"communicator/cmd/internal/client"

	"github.com/spf13/cobra"
)

func newOutboxCmd() *cobra.Command {
	outboxCmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect or retry messages queued while offline",
	}

	var asJSON bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List queued messages in send order",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, true)
			if err != nil {
				return err
			}
			defer s.Close()

			outbox, err := s.outbox()
			if err != nil {
				return err
			}
			entries, err := outbox.Entries()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "Outbox is empty.")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(out, "%s  to=%s  attempts=%d  created=%s  %q\n",
					e.ClientMessageID, e.RecipientID, e.Attempts, e.CreatedAt.Local().Format(time.DateTime), e.Content)
				if e.LastError != "" {
					fmt.Fprintf(out, "    last error: %s\n", e.LastError)
				}
			}
			return nil
		},
	}
	listCmd.Flags().BoolVar(&asJSON, "json", false, "output raw JSON")

	flushCmd := &cobra.Command{
		Use:   "flush",
		Short: "Retry queued messages now",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, true)
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			outbox, err := s.outbox(client.WithOnRejected(func(e client.PendingEntry, err error) {
				fmt.Fprintf(out, "Dropped %s: %v\n", e.ClientMessageID, describeError(err))
			}))
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			res, err := outbox.Drain(ctx, s.api)
			fmt.Fprintf(out, "Sent %d, dropped %d, remaining %d\n", res.Sent, res.Rejected, res.Remaining)
			if err != nil {
				return fmt.Errorf("flush stopped: %w", describeError(err))
			}
			return nil
		},
	}

	outboxCmd.AddCommand(listCmd, flushCmd)
	return outboxCmd
}
