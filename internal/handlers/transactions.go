package handlers

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/nip47bridge/cln-nwc-bridge/internal/dispatcher"
)

type listTransactionsParams struct {
	From   int64  `json:"from"`
	Until  int64  `json:"until"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
	Unpaid bool   `json:"unpaid"`
	Type   string `json:"type"`
}

// ListTransactionsResult wraps the merged, time-sorted transaction list.
type ListTransactionsResult struct {
	Transactions []TransactionResult `json:"transactions"`
}

// ListTransactions merges incoming invoices and outgoing payments within
// [from, until], applying the unpaid/type filters and paging. Zero-amount
// incoming invoices are always listed regardless of unpaid, since they
// have no "unpaid" state distinct from "pending" until settled; unpaid
// only additionally includes non-zero unpaid invoices.
func ListTransactions(ctx context.Context, hc *dispatcher.HandlerContext, raw json.RawMessage) (string, interface{}, *dispatcher.NWCError) {
	var p listTransactionsParams
	if len(raw) > 0 {
		if nerr := decodeParams(raw, &p); nerr != nil {
			return "", nil, nerr
		}
	}

	var out []TransactionResult

	if p.Type == "" || p.Type == "incoming" {
		invoices, err := hc.Node.ListInvoices(ctx)
		if err != nil {
			return "", nil, &dispatcher.NWCError{Code: dispatcher.ErrInternal, Message: err.Error()}
		}
		for _, inv := range invoices {
			paid := inv.Status == "paid"
			if !paid && !p.Unpaid && inv.AmountMsat != 0 {
				continue
			}
			tx := invoiceToTransaction(inv)
			if !withinWindow(tx.CreatedAt, p.From, p.Until) {
				continue
			}
			out = append(out, tx)
		}
	}

	if p.Type == "" || p.Type == "outgoing" {
		pays, err := hc.Node.ListPays(ctx)
		if err != nil {
			return "", nil, &dispatcher.NWCError{Code: dispatcher.ErrInternal, Message: err.Error()}
		}
		for _, pay := range pays {
			tx := paymentToTransaction(pay)
			if !withinWindow(tx.CreatedAt, p.From, p.Until) {
				continue
			}
			out = append(out, tx)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })

	if p.Offset > 0 && p.Offset < len(out) {
		out = out[p.Offset:]
	} else if p.Offset >= len(out) {
		out = nil
	}
	if p.Limit > 0 && p.Limit < len(out) {
		out = out[:p.Limit]
	}

	return "list_transactions", ListTransactionsResult{Transactions: out}, nil
}

func withinWindow(createdAt, from, until int64) bool {
	if from > 0 && createdAt < from {
		return false
	}
	if until > 0 && createdAt > until {
		return false
	}
	return true
}
