package handlers

import (
	"context"
	"encoding/json"

	"github.com/nip47bridge/cln-nwc-bridge/internal/dispatcher"
)

// InfoResult is the get_info response shape.
type InfoResult struct {
	Alias         string   `json:"alias"`
	Color         string   `json:"color"`
	PubKey        string   `json:"pubkey"`
	Network       string   `json:"network"`
	BlockHeight   int64    `json:"block_height"`
	Methods       []string `json:"methods"`
	Notifications []string `json:"notifications"`
	Lud16         string   `json:"lud16,omitempty"`
}

// GetInfo sources alias/network/pubkey from the node's getinfo and
// derives the eligible method list from the connection's live ledger
// entry.
func GetInfo(ctx context.Context, hc *dispatcher.HandlerContext, _ json.RawMessage) (string, interface{}, *dispatcher.NWCError) {
	info, err := hc.Node.GetInfo(ctx)
	if err != nil {
		return "", nil, &dispatcher.NWCError{Code: dispatcher.ErrInternal, Message: "getinfo failed: " + err.Error()}
	}

	notifications := []string{}
	if hc.NotificationsEnabled {
		notifications = []string{"payment_received", "payment_sent"}
	}

	// The node reports mainnet as "bitcoin"; NIP-47 names it "mainnet".
	network := info.Network
	if network == "bitcoin" {
		network = "mainnet"
	}

	return "get_info", InfoResult{
		Alias:         info.Alias,
		Color:         info.Color,
		PubKey:        hc.Conn.WalletPubKey,
		Network:       network,
		BlockHeight:   info.BlockHeight,
		Methods:       hc.Ledger.EligibleMethods(),
		Notifications: notifications,
		Lud16:         hc.Conn.Lud16,
	}, nil
}
