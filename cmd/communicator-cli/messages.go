package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"communicator/cmd/internal/client"
	v1 "communicator/shared/contracts/messaging/v1"

	"github.com/spf13/cobra"
)

func newSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <contact> <message...>",
		Short: "Send a message, queueing it if the server is unreachable",
		Long: "Send a message to a username or user id.\n" +
			"If the server cannot be reached the message is kept in the local outbox and\n" +
			"retried with the same client message id by 'outbox flush' or 'watch'.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, true)
			if err != nil {
				return err
			}
			defer s.Close()

			content := strings.Join(args[1:], " ")

			openCtx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			contact, err := s.resolveContact(openCtx, args[0])
			if err != nil {
				return err
			}

			outbox, err := s.outbox()
			if err != nil {
				return err
			}
			view, err := s.view(outbox)
			if err != nil {
				return err
			}
			// Opening first lets the confirmed message land in the local cache.
			if err := view.Open(openCtx, contact); err != nil && !client.IsTransient(err) {
				return describeError(err)
			}

			sendCtx, sendCancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer sendCancel()

			entry, err := view.Send(sendCtx, content)
			if err != nil {
				return describeError(err)
			}

			out := cmd.OutOrStdout()
			if entry.Status == client.StatusQueued {
				fmt.Fprintf(out, "Queued %s (server unreachable; 'outbox flush' or 'watch' will retry)\n", entry.ClientMessageID)
				return nil
			}
			fmt.Fprintf(out, "Sent %s\n", entry.ID)
			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history <contact>",
		Short: "Show the conversation with a contact",
		Long:  "Show the conversation with a contact. The local cache is shown when the server is unreachable.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, true)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			contact, err := s.resolveContact(ctx, args[0])
			if err != nil {
				return err
			}
			outbox, err := s.outbox()
			if err != nil {
				return err
			}
			view, err := s.view(outbox)
			if err != nil {
				return err
			}

			offline := false
			if err := view.Open(ctx, contact); err != nil {
				if !client.IsTransient(err) {
					return describeError(err)
				}
				offline = true
			}

			entries := view.Messages()
			if offline {
				queued, err := queuedFor(outbox, contact)
				if err != nil {
					return err
				}
				entries = append(entries, queued...)
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[len(entries)-limit:]
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}

			if offline {
				fmt.Fprintln(out, "(server unreachable: showing cached history)")
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No messages.")
				return nil
			}
			for _, e := range entries {
				printMessage(out, s.cfg.Auth.UserID, e.MessageDTO, statusSuffix(e.Status))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "show only the last N messages (0 = all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output raw JSON")
	return cmd
}

func newWatchCmd() *cobra.Command {
	var (
		once     bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch [contact]",
		Short: "Poll for new messages and retry queued sends",
		Long: "Run the sync loop: every tick retries the outbox, then polls for messages\n" +
			"newer than the stored cursor. With a contact, only that conversation is shown.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, true)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if interval <= 0 {
				if interval, err = s.cfg.pollInterval(); err != nil {
					return err
				}
			}

			var contact string
			if len(args) == 1 {
				rctx, cancel := context.WithTimeout(ctx, requestTimeout)
				contact, err = s.resolveContact(rctx, args[0])
				cancel()
				if err != nil {
					return err
				}
			}

			me := s.cfg.Auth.UserID
			out := cmd.OutOrStdout()

			var view *client.ConversationView
			outbox, err := s.outbox(
				client.WithOnSent(func(e client.PendingEntry, m v1.MessageDTO) {
					if view != nil {
						view.Confirm(e.ClientMessageID, m)
					}
					printMessage(out, me, m, " (delivered)")
				}),
				client.WithOnRejected(func(e client.PendingEntry, err error) {
					fmt.Fprintf(out, "Dropped queued message %s: %v\n", e.ClientMessageID, describeError(err))
				}),
			)
			if err != nil {
				return err
			}

			if contact != "" {
				if view, err = s.view(outbox); err != nil {
					return err
				}
				octx, cancel := context.WithTimeout(ctx, requestTimeout)
				err := view.Open(octx, contact)
				cancel()
				if err != nil && !client.IsTransient(err) {
					return describeError(err)
				}
				for _, e := range view.Messages() {
					printMessage(out, me, e.MessageDTO, statusSuffix(e.Status))
				}
			}

			store, err := s.openStore()
			if err != nil {
				return err
			}
			cursor := client.NewCursor(s.api, store, me, client.WithCursorLogger(s.log))

			consume := func(_ context.Context, batch []v1.MessageDTO) error {
				for _, m := range batch {
					if view != nil && view.Merge([]v1.MessageDTO{m}) == 0 {
						continue
					}
					printMessage(out, me, m, "")
				}
				return nil
			}

			syncer := client.NewSyncer(cursor, outbox, s.api, consume,
				client.WithSyncLogger(s.log),
				client.WithPollInterval(interval),
			)
			if once {
				return describeError(syncer.Tick(ctx))
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "Watching as %s every %s (Ctrl-C to stop)\n", s.cfg.Auth.Username, interval)
			return syncer.RunWithHealthCheck(ctx, s.api.Health, client.DefaultHealthInterval)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single sync tick and exit")
	cmd.Flags().DurationVar(&interval, "interval", 0, "poll interval (default from client.poll_interval)")
	return cmd
}

// queuedFor returns the outbox entries addressed to contact as view entries.
func queuedFor(outbox *client.Outbox, contact string) ([]client.ViewEntry, error) {
	pending, err := outbox.Entries()
	if err != nil {
		return nil, err
	}
	var out []client.ViewEntry
	for _, p := range pending {
		if p.RecipientID != contact {
			continue
		}
		out = append(out, client.ViewEntry{
			MessageDTO: v1.MessageDTO{
				ID:          p.ClientMessageID,
				SenderID:    p.SenderID,
				RecipientID: p.RecipientID,
				Content:     p.Content,
				SentAt:      p.CreatedAt,
			},
			ClientMessageID: p.ClientMessageID,
			Status:          client.StatusQueued,
		})
	}
	return out, nil
}

func statusSuffix(st client.EntryStatus) string {
	switch st {
	case client.StatusQueued:
		return " (queued)"
	case client.StatusPending:
		return " (sending)"
	case client.StatusFailed:
		return " (failed)"
	default:
		return ""
	}
}
