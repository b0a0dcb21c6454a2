// Command nip47ctl issues the Operator RPC commands (nip47-create,
// nip47-revoke, nip47-list, nip47-budget) against a running
// nip47bridged's control socket. It stands in for `lightning-cli
// nip47-*`, which is how these same commands reach the daemon in a real
// CLN plugin deployment.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nip47bridge/cln-nwc-bridge/internal/control"
)

var (
	socketPath string
	timeout    time.Duration
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "nip47ctl",
		Short: "Operate an nip47bridged daemon's NWC connections",
	}
	root.PersistentFlags().StringVar(&socketPath, "socket", "./nip47bridge.sock", "path to the daemon's control socket")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "control socket call timeout")

	root.AddCommand(newCreateCommand())
	root.AddCommand(newRevokeCommand())
	root.AddCommand(newListCommand())
	root.AddCommand(newBudgetCommand())
	return root
}

func client() *control.Client {
	return control.NewClient(socketPath, timeout)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
