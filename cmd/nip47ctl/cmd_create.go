package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

func newCreateCommand() *cobra.Command {
	var relays []string
	var lud16 string
	var budget string
	var noQR bool

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Pair a new NWC connection and print its pairing URI",
		Long: `Pair a new NWC connection and print its pairing URI.

The --budget flag accepts "unlimited" (the default), a plain msat cap
("100000000"), or a renewing cap on an interval ("100000000/7d").`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Name       string `json:"name"`
				PairingURI string `json:"pairing_uri"`
			}
			err := client().Call(uuid.NewString(), "nip47-create", map[string]interface{}{
				"name":   args[0],
				"relays": relays,
				"lud16":  lud16,
				"budget": budget,
			}, &resp)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "connection %q created\n", resp.Name)
			fmt.Fprintln(cmd.OutOrStdout(), resp.PairingURI)

			if !noQR {
				qr, err := qrcode.New(resp.PairingURI, qrcode.Medium)
				if err != nil {
					fmt.Fprintf(os.Stderr, "rendering QR code: %v\n", err)
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), qr.ToString(false))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&relays, "relay", nil, "relay URL (repeatable)")
	cmd.Flags().StringVar(&lud16, "lud16", "", "lightning address to advertise on get_info")
	cmd.Flags().StringVar(&budget, "budget", "unlimited", "budget: unlimited | <msat> | <msat>/<interval>")
	cmd.Flags().BoolVar(&noQR, "no-qr", false, "skip printing a terminal QR code")

	cmd.MarkFlagRequired("relay")
	return cmd
}
