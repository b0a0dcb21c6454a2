package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// connectionSummary mirrors cmd/nip47bridged's nip47-list result shape.
type connectionSummary struct {
	Name          string   `json:"name"`
	WalletPubKey  string   `json:"wallet_pubkey"`
	Relays        []string `json:"relays"`
	Lud16         string   `json:"lud16,omitempty"`
	BudgetKind    string   `json:"budget_kind"`
	BudgetCapMsat uint64   `json:"budget_cap_msat"`
	RemainingMsat uint64   `json:"remaining_msat"`
	Revoked       bool     `json:"revoked"`
}

func newListCommand() *cobra.Command {
	var filter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List NWC connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			var conns []connectionSummary
			if err := client().Call(uuid.NewString(), "nip47-list", map[string]string{"filter": filter}, &conns); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tBUDGET\tREMAINING\tREVOKED\tLUD16")
			for _, c := range conns {
				fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%s\n", c.Name, c.BudgetKind, c.RemainingMsat, c.Revoked, c.Lud16)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&filter, "filter", "", "only show connections whose name contains this substring")
	return cmd
}
