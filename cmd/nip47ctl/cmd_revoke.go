package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newRevokeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <name>",
		Short: "Revoke an NWC connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Name   string `json:"name"`
				Status string `json:"status"`
			}
			if err := client().Call(uuid.NewString(), "nip47-revoke", map[string]string{"name": args[0]}, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "connection %q %s\n", resp.Name, resp.Status)
			return nil
		},
	}
}
