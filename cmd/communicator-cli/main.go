// Command communicator-cli is a terminal client for the communicator server.
//
// It keeps the sync cursor, the outbox of unsent messages and a per-conversation
// cache in a bbolt file under ~/.communicator/data, so it works across restarts
// and while the server is unreachable.
package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "communicator-cli",
		Short: "Communicator command-line client",
		Long: "Command-line client for the communicator message sync server.\n" +
			"Register or log in, send messages (queued while offline), and watch for new ones.",
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolP("verbose", "v", false, "log sync activity to stderr")

	root.AddCommand(
		newRegisterCmd(),
		newLoginCmd(),
		newLogoutCmd(),
		newUsersCmd(),
		newSendCmd(),
		newHistoryCmd(),
		newWatchCmd(),
		newOutboxCmd(),
		newConfigCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
