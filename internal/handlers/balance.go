package handlers

import (
	"context"
	"encoding/json"

	"github.com/nip47bridge/cln-nwc-bridge/internal/dispatcher"
	"github.com/nip47bridge/cln-nwc-bridge/internal/ledger"
)

// BalanceResult is the get_balance response shape.
type BalanceResult struct {
	BalanceMsat uint64 `json:"balance_msat"`
}

// GetBalance reports the node's spendable channel balance for Unlimited
// connections, or the ledger's remaining budget (after lazy renewal)
// otherwise.
func GetBalance(ctx context.Context, hc *dispatcher.HandlerContext, _ json.RawMessage) (string, interface{}, *dispatcher.NWCError) {
	if hc.Ledger.Config().Kind == ledger.Unlimited {
		balance, err := hc.Node.SpendableBalance(ctx)
		if err != nil {
			return "", nil, &dispatcher.NWCError{Code: dispatcher.ErrInternal, Message: "listfunds failed: " + err.Error()}
		}
		return "get_balance", BalanceResult{BalanceMsat: balance}, nil
	}
	return "get_balance", BalanceResult{BalanceMsat: hc.Ledger.Balance()}, nil
}
