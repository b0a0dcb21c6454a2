package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newBudgetCommand() *cobra.Command {
	var capMsat uint64
	var interval string

	cmd := &cobra.Command{
		Use:   "budget <name>",
		Short: "Adjust a connection's budget cap",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Name   string `json:"name"`
				Status string `json:"status"`
			}
			err := client().Call(uuid.NewString(), "nip47-budget", map[string]interface{}{
				"name":     args[0],
				"cap_msat": capMsat,
				"interval": interval,
			}, &resp)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "connection %q %s\n", resp.Name, resp.Status)
			return nil
		},
	}

	cmd.Flags().Uint64Var(&capMsat, "cap-msat", 0, "new budget cap in millisatoshis")
	cmd.Flags().StringVar(&interval, "interval", "", "renewal interval (e.g. 7d); when omitted, a renewing budget keeps its interval and any other budget becomes a fixed one-time cap")
	cmd.MarkFlagRequired("cap-msat")
	return cmd
}
